package usecase

import (
	"fmt"
	"sync"

	"github.com/pulsohq/pulso/internal/domain"
)

// In-memory collaborators for the usecase tests. They implement the
// domain ports with just enough behavior to exercise the state machine,
// including scripted optimistic conflicts.

type fakeTemplateRepo struct {
	tpl domain.Template
	err error
}

func (f *fakeTemplateRepo) Get(_ domain.Context, id string) (domain.Template, error) {
	if f.err != nil {
		return domain.Template{}, f.err
	}
	if id != f.tpl.ID {
		return domain.Template{}, domain.ErrNotFound
	}
	return f.tpl, nil
}

func (f *fakeTemplateRepo) Create(_ domain.Context, _ domain.Template) (string, error) {
	return f.tpl.ID, nil
}

type fakeConversationRepo struct {
	mu     sync.Mutex
	convs  map[string]domain.ConversationState
	staged map[string][]domain.StagedAnswer
	// conflictsLeft forces the next N Save/Complete calls to fail with
	// ErrConflict before succeeding.
	conflictsLeft int
	responseID    string
	completeCalls int
}

func newFakeConversationRepo() *fakeConversationRepo {
	return &fakeConversationRepo{
		convs:      map[string]domain.ConversationState{},
		staged:     map[string][]domain.StagedAnswer{},
		responseID: "aabbccdd-0000-0000-0000-000000000000",
	}
}

func (f *fakeConversationRepo) Create(_ domain.Context, c domain.ConversationState) (domain.ConversationState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c.ID = "conv-" + c.DeliveryID
	c.Version = 1
	f.convs[c.DeliveryID] = c
	return c, nil
}

func (f *fakeConversationRepo) GetByDelivery(_ domain.Context, deliveryID string) (domain.ConversationState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.convs[deliveryID]
	if !ok {
		return domain.ConversationState{}, domain.ErrNotFound
	}
	return c, nil
}

func (f *fakeConversationRepo) Save(_ domain.Context, c *domain.ConversationState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conflictsLeft > 0 {
		f.conflictsLeft--
		return fmt.Errorf("op=conv.save: %w", domain.ErrConflict)
	}
	f.convs[c.DeliveryID] = *c
	c.Version++
	return nil
}

func (f *fakeConversationRepo) StagePending(_ domain.Context, deliveryID string, a domain.StagedAnswer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.staged[deliveryID][:0]
	for _, s := range f.staged[deliveryID] {
		if s.QuestionID != a.QuestionID {
			kept = append(kept, s)
		}
	}
	f.staged[deliveryID] = append(kept, a)
	return nil
}

func (f *fakeConversationRepo) ListPending(_ domain.Context, deliveryID string) ([]domain.StagedAnswer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.StagedAnswer(nil), f.staged[deliveryID]...), nil
}

func (f *fakeConversationRepo) Complete(_ domain.Context, c *domain.ConversationState, _ []domain.StagedAnswer) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completeCalls++
	if f.conflictsLeft > 0 {
		f.conflictsLeft--
		return "", fmt.Errorf("op=conv.complete: %w", domain.ErrConflict)
	}
	c.Completed = true
	c.CurrentQuestionID = ""
	c.Version++
	f.convs[c.DeliveryID] = *c
	delete(f.staged, c.DeliveryID)
	return f.responseID, nil
}

type fakeClassifier struct {
	calls  int
	result domain.Classification
	err    error
}

func (f *fakeClassifier) ClassifyOption(_ domain.Context, _ string, _ []string, _ string, _ bool) (domain.Classification, error) {
	f.calls++
	if f.err != nil {
		return domain.Classification{}, f.err
	}
	return f.result, nil
}

type sentMessage struct {
	Kind    string // "text", "confirm", "options"
	Phone   string
	Body    string
	Options []string
}

type fakeMessenger struct {
	mu      sync.Mutex
	sent    []sentMessage
	sendErr error
}

func (f *fakeMessenger) record(m sentMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, m)
	return nil
}

func (f *fakeMessenger) SendText(_ domain.Context, phone, body string) error {
	return f.record(sentMessage{Kind: "text", Phone: phone, Body: body})
}

func (f *fakeMessenger) SendConfirm(_ domain.Context, phone, body string) error {
	return f.record(sentMessage{Kind: "confirm", Phone: phone, Body: body})
}

func (f *fakeMessenger) SendOptionList(_ domain.Context, phone, body string, options []string) error {
	return f.record(sentMessage{Kind: "options", Phone: phone, Body: body, Options: options})
}

func (f *fakeMessenger) last() sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return sentMessage{}
	}
	return f.sent[len(f.sent)-1]
}

type fakeSessionStore struct {
	mu     sync.Mutex
	stages map[string]domain.SessionStage
	getErr error
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{stages: map[string]domain.SessionStage{}}
}

func (f *fakeSessionStore) Get(_ domain.Context, phone string) (domain.SessionStage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return domain.StageNone, f.getErr
	}
	return f.stages[phone], nil
}

func (f *fakeSessionStore) Set(_ domain.Context, phone string, stage domain.SessionStage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if stage == domain.StageNone {
		delete(f.stages, phone)
		return nil
	}
	f.stages[phone] = stage
	return nil
}

func (f *fakeSessionStore) Clear(_ domain.Context, phone string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.stages, phone)
	return nil
}

func (f *fakeSessionStore) stage(phone string) domain.SessionStage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stages[phone]
}

type fakeDeliveryRepo struct {
	mu         sync.Mutex
	deliveries map[string]domain.Delivery
	byPhone    map[string]string // phone -> delivery id
	failed     []string
	sent       []string
}

func newFakeDeliveryRepo(ds ...domain.Delivery) *fakeDeliveryRepo {
	f := &fakeDeliveryRepo{deliveries: map[string]domain.Delivery{}, byPhone: map[string]string{}}
	for _, d := range ds {
		f.deliveries[d.ID] = d
		if d.Recipient.Phone != "" {
			f.byPhone[d.Recipient.Phone] = d.ID
		}
	}
	return f
}

func (f *fakeDeliveryRepo) Get(_ domain.Context, id string) (domain.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.deliveries[id]
	if !ok {
		return domain.Delivery{}, domain.ErrNotFound
	}
	return d, nil
}

func (f *fakeDeliveryRepo) FindAwaitingByPhone(_ domain.Context, phone string, _ domain.Channel) (domain.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byPhone[phone]
	if !ok {
		return domain.Delivery{}, domain.ErrNotFound
	}
	return f.deliveries[id], nil
}

func (f *fakeDeliveryRepo) ListPendingByCampaign(_ domain.Context, campaignID string) ([]domain.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Delivery
	for _, d := range f.deliveries {
		if d.CampaignID == campaignID && d.Status == domain.DeliveryPending {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeDeliveryRepo) MarkSent(_ domain.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, id)
	return nil
}

func (f *fakeDeliveryRepo) MarkFailed(_ domain.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, id)
	return nil
}

type fakeCampaignRepo struct {
	campaign domain.Campaign
	err      error
}

func (f *fakeCampaignRepo) Get(_ domain.Context, id string) (domain.Campaign, error) {
	if f.err != nil {
		return domain.Campaign{}, f.err
	}
	if id != f.campaign.ID {
		return domain.Campaign{}, domain.ErrNotFound
	}
	return f.campaign, nil
}

type fakeQueue struct {
	mu       sync.Mutex
	payloads []domain.DispatchTaskPayload
	err      error
}

func (f *fakeQueue) EnqueueDispatch(_ domain.Context, p domain.DispatchTaskPayload) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.payloads = append(f.payloads, p)
	return p.DeliveryID, nil
}

// surveyTemplate is the standard four-question fixture: numeric, single
// select, multi select, optional free text.
func surveyTemplate() domain.Template {
	return domain.Template{
		ID:     "tpl-1",
		Name:   "Satisfacción",
		Active: true,
		Questions: []domain.Question{
			{ID: "q1", Order: 1, Text: "Del 1 al 10, ¿qué tan satisfecho estás?", Type: domain.QuestionNumeric, Required: true},
			{ID: "q2", Order: 2, Text: "¿Qué color prefieres?", Type: domain.QuestionSingleSelect, Required: true, Options: []domain.Option{
				{ID: "o-rojo", Label: "Rojo", Value: "Rojo"},
				{ID: "o-verde", Label: "Verde", Value: "Verde"},
				{ID: "o-azul", Label: "Azul", Value: "Azul"},
			}},
			{ID: "q3", Order: 3, Text: "¿Qué categorías te interesan?", Type: domain.QuestionMultiSelect, Required: true, Options: []domain.Option{
				{ID: "o-ropa", Label: "Ropa", Value: "Ropa"},
				{ID: "o-calzado", Label: "Calzado", Value: "Calzado"},
				{ID: "o-hogar", Label: "Hogar", Value: "Hogar"},
			}},
			{ID: "q4", Order: 4, Text: "¿Algo más que quieras contarnos?", Type: domain.QuestionFreeText, Required: false},
		},
	}
}

func surveyDelivery() domain.Delivery {
	return domain.Delivery{
		ID:           "dlv-1",
		CampaignID:   "cmp-1",
		Channel:      domain.ChannelWhatsApp,
		Status:       domain.DeliverySent,
		Recipient:    domain.Recipient{ID: "rcp-1", Name: "Ana", Phone: "59171234567"},
		CampaignName: "Postventa Q3",
		TemplateID:   "tpl-1",
	}
}
