package stepper

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apiweave/apiweave/pkg/engine"
	"github.com/apiweave/apiweave/pkg/model/mintegration"
	"github.com/apiweave/apiweave/pkg/model/mworkflow"
	"github.com/apiweave/apiweave/pkg/notify"
)

// fakeService scripts the engine calls the machine makes. A non-nil gate
// channel makes the call signal on started and then block until the gate is
// closed, so tests can hold an operation in flight.
type fakeService struct {
	mu sync.Mutex

	buildErr    error
	upsertErr   error
	generateErr error

	buildStarted    chan struct{}
	buildGate       chan struct{}
	upsertStarted   chan struct{}
	upsertGate      chan struct{}
	generateStarted chan struct{}
	generateGate    chan struct{}

	buildReqs     []engine.BuildRequest
	upsertWfs     []mworkflow.Workflow
	builtSteps    []mworkflow.ExecutionStep
	generateCalls int
}

func wait(started, gate chan struct{}) {
	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
}

func (f *fakeService) BuildWorkflow(_ context.Context, req engine.BuildRequest) (mworkflow.Workflow, error) {
	f.mu.Lock()
	f.buildReqs = append(f.buildReqs, req)
	f.mu.Unlock()
	wait(f.buildStarted, f.buildGate)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.buildErr != nil {
		return mworkflow.Workflow{}, f.buildErr
	}
	steps := f.builtSteps
	if steps == nil {
		steps = []mworkflow.ExecutionStep{{ID: "fetch-users", ApiConfig: mworkflow.ApiConfig{Method: "GET", URLHost: "https://api.example.com"}}}
	}
	return mworkflow.Workflow{ID: "wf-built", Steps: steps, Instruction: req.Instruction}, nil
}

func (f *fakeService) UpsertWorkflow(_ context.Context, id string, wf mworkflow.Workflow) (mworkflow.Workflow, error) {
	f.mu.Lock()
	f.upsertWfs = append(f.upsertWfs, wf)
	f.mu.Unlock()
	wait(f.upsertStarted, f.upsertGate)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return mworkflow.Workflow{}, f.upsertErr
	}
	return wf, nil
}

func (f *fakeService) GenerateInstructions(_ context.Context, _ []mintegration.Integration) ([]string, error) {
	f.mu.Lock()
	f.generateCalls++
	f.mu.Unlock()
	wait(f.generateStarted, f.generateGate)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.generateErr != nil {
		return nil, f.generateErr
	}
	return []string{"Fetch all users", "Sync orders to the CRM"}, nil
}

func (f *fakeService) generateCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.generateCalls
}

func newMachine(t *testing.T, svc Service, notifier *notify.Center) *Machine {
	t.Helper()
	m, err := New(Config{Service: svc, Notifier: notifier})
	require.NoError(t, err)
	return m
}

func stripe() mintegration.Integration {
	return mintegration.Integration{ID: "stripe", URLHost: "https://api.stripe.com"}
}

func advanceToPrompt(t *testing.T, m *Machine) {
	t.Helper()
	m.SelectIntegration(stripe())
	require.NoError(t, m.Next(context.Background()))
	m.Wait()
	require.Equal(t, PhasePrompt, m.Phase())
}

func TestNewRequiresService(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestIntegrationsPhaseRequiresSelection(t *testing.T) {
	m := newMachine(t, &fakeService{}, nil)

	err := m.Next(context.Background())
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, PhaseIntegrations, m.Phase())
	assert.Contains(t, m.FieldErrors(), "integrations")

	m.SelectIntegration(stripe())
	require.NoError(t, m.Next(context.Background()))
	m.Wait()
	assert.Equal(t, PhasePrompt, m.Phase())
	assert.Empty(t, m.FieldErrors(), "field errors are cleared on phase entry")
}

func TestSelectedIntegrationIDsSorted(t *testing.T) {
	m := newMachine(t, &fakeService{}, nil)
	m.SelectIntegration(mintegration.Integration{ID: "zendesk"})
	m.SelectIntegration(mintegration.Integration{ID: "stripe"})
	m.SelectIntegration(mintegration.Integration{ID: "hubspot"})
	m.DeselectIntegration("hubspot")

	assert.Equal(t, []string{"stripe", "zendesk"}, m.SelectedIntegrationIDs())
}

func TestPromptPhaseValidation(t *testing.T) {
	svc := &fakeService{}
	m := newMachine(t, svc, nil)
	advanceToPrompt(t, m)

	t.Run("instruction required", func(t *testing.T) {
		err := m.Next(context.Background())
		assert.ErrorIs(t, err, ErrValidation)
		assert.Contains(t, m.FieldErrors(), "instruction")
		assert.Equal(t, PhasePrompt, m.Phase())
	})

	t.Run("payload must be a JSON object", func(t *testing.T) {
		m.SetInstruction("fetch all users")
		m.SetPayloadText(`[1, 2, 3]`)
		err := m.Next(context.Background())
		assert.ErrorIs(t, err, ErrValidation)
		assert.Contains(t, m.FieldErrors(), "payload")
	})

	t.Run("empty payload means empty object", func(t *testing.T) {
		m.SetPayloadText("")
		require.NoError(t, m.Next(context.Background()))
		assert.Equal(t, PhaseReview, m.Phase())
		require.Len(t, svc.buildReqs, 1)
		assert.Equal(t, map[string]any{}, svc.buildReqs[0].Payload)
		assert.Equal(t, []string{"stripe"}, svc.buildReqs[0].IntegrationIDs)
	})
}

func TestBuildFailureKeepsPromptPhase(t *testing.T) {
	buildErr := errors.New("engine unavailable")
	svc := &fakeService{buildErr: buildErr}
	notifier := notify.NewCenter()
	m := newMachine(t, svc, notifier)
	advanceToPrompt(t, m)
	m.SetInstruction("fetch all users")

	err := m.Next(context.Background())
	assert.ErrorIs(t, err, buildErr)
	assert.Equal(t, PhasePrompt, m.Phase())
	assert.Nil(t, m.Workflow())

	history := notifier.History()
	require.NotEmpty(t, history)
	assert.Equal(t, notify.SeverityError, history[len(history)-1].Severity)
}

func TestBuildSuccessSeedsSession(t *testing.T) {
	svc := &fakeService{}
	m := newMachine(t, svc, nil)
	advanceToPrompt(t, m)
	m.SetInstruction("fetch all users")
	m.SetPayloadText(`{"limit": 10}`)

	require.NoError(t, m.Next(context.Background()))
	assert.Equal(t, PhaseReview, m.Phase())

	wf := m.Workflow()
	require.NotNil(t, wf)
	assert.Equal(t, "wf-built", wf.ID)
	require.NotNil(t, m.Session())
	assert.Equal(t, "wf-built", m.Session().Workflow().ID)
}

func TestSaveGateAndSuccess(t *testing.T) {
	svc := &fakeService{}
	m := newMachine(t, svc, nil)
	advanceToPrompt(t, m)
	m.SetInstruction("fetch all users")
	require.NoError(t, m.Next(context.Background()))

	require.NoError(t, m.Next(context.Background()))
	assert.Equal(t, PhaseSuccess, m.Phase())
	require.NotNil(t, m.Saved())
	assert.Equal(t, "wf-built", m.Saved().ID)

	assert.ErrorIs(t, m.Next(context.Background()), ErrAtFinalPhase)
}

func TestSaveFailureKeepsReviewPhase(t *testing.T) {
	saveErr := errors.New("conflict")
	svc := &fakeService{upsertErr: saveErr}
	notifier := notify.NewCenter()
	m := newMachine(t, svc, notifier)
	advanceToPrompt(t, m)
	m.SetInstruction("fetch all users")
	require.NoError(t, m.Next(context.Background()))

	err := m.Next(context.Background())
	assert.ErrorIs(t, err, saveErr)
	assert.Equal(t, PhaseReview, m.Phase())
	assert.Nil(t, m.Saved())
	require.NotEmpty(t, notifier.History())
}

func TestSavePersistsHealedWorkflow(t *testing.T) {
	svc := &fakeService{}
	m := newMachine(t, svc, nil)
	advanceToPrompt(t, m)
	m.SetInstruction("fetch all users")
	require.NoError(t, m.Next(context.Background()))

	healed := m.Session().Workflow().Steps
	healed[0].ApiConfig.URLPath = "/v2/users"
	m.Session().RecordHealed(healed, "")

	require.NoError(t, m.Next(context.Background()))
	require.Len(t, svc.upsertWfs, 1)
	assert.Equal(t, "/v2/users", svc.upsertWfs[0].Steps[0].ApiConfig.URLPath)
}

func TestSubFormBlocksNavigation(t *testing.T) {
	m := newMachine(t, &fakeService{}, nil)
	m.SelectIntegration(stripe())
	m.SetSubFormOpen(true)

	assert.ErrorIs(t, m.Next(context.Background()), ErrSubFormOpen)
	assert.ErrorIs(t, m.Back(), ErrSubFormOpen)

	m.SetSubFormOpen(false)
	require.NoError(t, m.Next(context.Background()))
	m.Wait()
}

func TestBackFromReviewDiscardsSession(t *testing.T) {
	svc := &fakeService{}
	m := newMachine(t, svc, nil)
	advanceToPrompt(t, m)
	m.SetInstruction("fetch all users")
	require.NoError(t, m.Next(context.Background()))

	m.Session().Tracker().MarkCompleted("fetch-users", "data")

	require.NoError(t, m.Back())
	assert.Equal(t, PhasePrompt, m.Phase())
	assert.Nil(t, m.Session())
	assert.Nil(t, m.Workflow(), "a new build must be explicit after going back")

	require.NoError(t, m.Back())
	assert.Equal(t, PhaseIntegrations, m.Phase())
	assert.ErrorIs(t, m.Back(), ErrAtFirstPhase)
}

func TestSuggestionGenerationIsBestEffort(t *testing.T) {
	svc := &fakeService{generateErr: errors.New("model unavailable")}
	notifier := notify.NewCenter()
	m := newMachine(t, svc, notifier)
	m.SelectIntegration(stripe())

	require.NoError(t, m.Next(context.Background()), "suggestion failure never blocks the advance")
	m.Wait()

	assert.Equal(t, PhasePrompt, m.Phase())
	assert.Empty(t, m.Suggestions())

	history := notifier.History()
	require.NotEmpty(t, history)
	assert.Equal(t, notify.SeverityWarning, history[len(history)-1].Severity)
}

func TestSuggestionsPopulatedOnSuccess(t *testing.T) {
	m := newMachine(t, &fakeService{}, nil)
	m.SelectIntegration(stripe())
	require.NoError(t, m.Next(context.Background()))
	m.Wait()

	assert.Equal(t, []string{"Fetch all users", "Sync orders to the CRM"}, m.Suggestions())
}

func TestNextRejectsSecondBuildInFlight(t *testing.T) {
	svc := &fakeService{buildStarted: make(chan struct{}, 1), buildGate: make(chan struct{})}
	m := newMachine(t, svc, nil)
	advanceToPrompt(t, m)
	m.SetInstruction("fetch all users")

	done := make(chan error, 1)
	go func() { done <- m.Next(context.Background()) }()
	<-svc.buildStarted

	assert.ErrorIs(t, m.Next(context.Background()), ErrAlreadyInFlight)

	close(svc.buildGate)
	require.NoError(t, <-done)
	assert.Equal(t, PhaseReview, m.Phase())
	require.Len(t, svc.buildReqs, 1)
}

func TestNextRejectsSecondSaveInFlight(t *testing.T) {
	svc := &fakeService{upsertStarted: make(chan struct{}, 1), upsertGate: make(chan struct{})}
	m := newMachine(t, svc, nil)
	advanceToPrompt(t, m)
	m.SetInstruction("fetch all users")
	require.NoError(t, m.Next(context.Background()))

	done := make(chan error, 1)
	go func() { done <- m.Next(context.Background()) }()
	<-svc.upsertStarted

	assert.ErrorIs(t, m.Next(context.Background()), ErrAlreadyInFlight)

	close(svc.upsertGate)
	require.NoError(t, <-done)
	assert.Equal(t, PhaseSuccess, m.Phase())
	require.Len(t, svc.upsertWfs, 1)
}

func TestRefreshSuggestionsCoalescesConcurrentCalls(t *testing.T) {
	svc := &fakeService{generateStarted: make(chan struct{}, 1), generateGate: make(chan struct{})}
	m := newMachine(t, svc, nil)
	m.SelectIntegration(stripe())

	done := make(chan struct{})
	go func() {
		m.RefreshSuggestions(context.Background())
		close(done)
	}()
	<-svc.generateStarted

	m.RefreshSuggestions(context.Background())
	assert.Equal(t, 1, svc.generateCallCount(), "second call coalesces into the running one")

	close(svc.generateGate)
	<-done
	assert.Equal(t, []string{"Fetch all users", "Sync orders to the CRM"}, m.Suggestions())
}

func TestBackDuringBuildDiscardsLateResult(t *testing.T) {
	svc := &fakeService{buildStarted: make(chan struct{}, 1), buildGate: make(chan struct{})}
	m := newMachine(t, svc, nil)
	advanceToPrompt(t, m)
	m.SetInstruction("fetch all users")

	done := make(chan error, 1)
	go func() { done <- m.Next(context.Background()) }()
	<-svc.buildStarted

	require.NoError(t, m.Back())
	assert.Equal(t, PhaseIntegrations, m.Phase())

	close(svc.buildGate)
	assert.ErrorIs(t, <-done, ErrPhaseChanged)
	assert.Equal(t, PhaseIntegrations, m.Phase(), "a late build result never advances the machine")
	assert.Nil(t, m.Workflow())
	assert.Nil(t, m.Session())
	m.Wait()
}

func TestApiConfigVariant(t *testing.T) {
	svc := &fakeService{}
	m, err := New(Config{Mode: ModeApiConfig, Service: svc})
	require.NoError(t, err)
	assert.Equal(t, PhaseBasic, m.Phase())

	assert.ErrorIs(t, m.Next(context.Background()), ErrValidation)

	m.SelectIntegration(stripe())
	m.SetInstruction("get a customer by id")
	require.NoError(t, m.Next(context.Background()))
	assert.Equal(t, PhaseTryAndOutput, m.Phase())

	m.AttachWorkflow(mworkflow.Workflow{
		ID:    "cfg-1",
		Steps: []mworkflow.ExecutionStep{{ID: "get-customer", ApiConfig: mworkflow.ApiConfig{Method: "GET", URLHost: "https://api.stripe.com"}}},
	})

	require.NoError(t, m.Next(context.Background()))
	assert.Equal(t, PhaseSave, m.Phase())
	require.Len(t, svc.upsertWfs, 1)
	assert.Equal(t, "cfg-1", svc.upsertWfs[0].ID)
}
