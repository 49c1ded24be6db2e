// Package stepper drives the authoring flow through its fixed phase
// sequence, enforcing validation before every advance and running the
// phase-entry side effects. Two sequences share the machinery: the workflow
// variant (integrations, prompt, review, success) and the single-API config
// variant (basic, try and output, save).
package stepper

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/goccy/go-json"

	"github.com/apiweave/apiweave/pkg/engine"
	"github.com/apiweave/apiweave/pkg/errmap"
	"github.com/apiweave/apiweave/pkg/flow/heal"
	"github.com/apiweave/apiweave/pkg/model/mintegration"
	"github.com/apiweave/apiweave/pkg/model/mworkflow"
	"github.com/apiweave/apiweave/pkg/notify"
)

type Phase int8

const (
	PhaseIntegrations Phase = iota
	PhasePrompt
	PhaseReview
	PhaseSuccess

	PhaseBasic
	PhaseTryAndOutput
	PhaseSave
)

func (p Phase) String() string {
	switch p {
	case PhaseIntegrations:
		return "integrations"
	case PhasePrompt:
		return "prompt"
	case PhaseReview:
		return "review"
	case PhaseSuccess:
		return "success"
	case PhaseBasic:
		return "basic"
	case PhaseTryAndOutput:
		return "try_and_output"
	case PhaseSave:
		return "save"
	}
	return "unknown"
}

type Mode int8

const (
	ModeWorkflow Mode = iota
	ModeApiConfig
)

func sequence(mode Mode) []Phase {
	if mode == ModeApiConfig {
		return []Phase{PhaseBasic, PhaseTryAndOutput, PhaseSave}
	}
	return []Phase{PhaseIntegrations, PhasePrompt, PhaseReview, PhaseSuccess}
}

// Service is the slice of the engine client the machine drives.
type Service interface {
	BuildWorkflow(ctx context.Context, req engine.BuildRequest) (mworkflow.Workflow, error)
	UpsertWorkflow(ctx context.Context, id string, wf mworkflow.Workflow) (mworkflow.Workflow, error)
	GenerateInstructions(ctx context.Context, integrations []mintegration.Integration) ([]string, error)
}

var (
	ErrSubFormOpen     = errors.New("a blocking sub-form is open")
	ErrAtFirstPhase    = errors.New("already at the first phase")
	ErrAtFinalPhase    = errors.New("already at the final phase")
	ErrValidation      = errors.New("validation failed")
	ErrAlreadyInFlight = errors.New("operation already in flight")
	ErrPhaseChanged    = errors.New("phase changed while the operation was in flight")
)

type Machine struct {
	mu sync.Mutex
	wg sync.WaitGroup

	mode     Mode
	phaseIdx int

	selected    map[string]mintegration.Integration
	instruction string
	payloadText string

	built       *mworkflow.Workflow
	session     *heal.Session
	saved       *mworkflow.Workflow
	suggestions []string

	fieldErrors map[string]string
	subFormOpen bool

	building   bool
	saving     bool
	generating bool

	svc      Service
	notifier *notify.Center
	logger   *slog.Logger
}

type Config struct {
	Mode     Mode
	Service  Service
	Notifier *notify.Center
	Logger   *slog.Logger
}

func New(cfg Config) (*Machine, error) {
	if cfg.Service == nil {
		return nil, errmap.Internal("stepper requires an engine service")
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.NewCenter()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Machine{
		mode:        cfg.Mode,
		selected:    make(map[string]mintegration.Integration),
		fieldErrors: make(map[string]string),
		svc:         cfg.Service,
		notifier:    cfg.Notifier,
		logger:      cfg.Logger,
	}, nil
}

func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sequence(m.mode)[m.phaseIdx]
}

// Wait blocks until background best-effort operations have finished. Call on
// session teardown.
func (m *Machine) Wait() {
	m.wg.Wait()
}

func (m *Machine) SelectIntegration(in mintegration.Integration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selected[in.ID] = in
}

func (m *Machine) DeselectIntegration(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.selected, id)
}

// SelectedIntegrationIDs returns the selected set in stable order; selection
// order is not significant.
func (m *Machine) SelectedIntegrationIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.selected))
	for id := range m.selected {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *Machine) SetInstruction(s string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instruction = s
}

func (m *Machine) SetPayloadText(s string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payloadText = s
}

// SetSubFormOpen marks a blocking sub-form (integration add/edit); navigation
// is frozen while one is open.
func (m *Machine) SetSubFormOpen(open bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subFormOpen = open
}

func (m *Machine) FieldErrors() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.fieldErrors))
	for k, v := range m.fieldErrors {
		out[k] = v
	}
	return out
}

func (m *Machine) Suggestions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.suggestions))
	copy(out, m.suggestions)
	return out
}

// Workflow returns the candidate built in the prompt phase, if any.
func (m *Machine) Workflow() *mworkflow.Workflow {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.built == nil {
		return nil
	}
	wf := m.built.Clone()
	return &wf
}

// AttachWorkflow seeds the editing session with an existing definition. The
// api-config variant uses it in place of the build gate, and review flows
// use it when loading a saved workflow.
func (m *Machine) AttachWorkflow(wf mworkflow.Workflow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cl := wf.Clone()
	m.built = &cl
	m.session = heal.NewSession(cl, nil)
}

// Session exposes the review-phase editing session (step edits, self-heal
// snapshots, execution bookkeeping).
func (m *Machine) Session() *heal.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Saved returns the persisted workflow after the success phase was reached.
func (m *Machine) Saved() *mworkflow.Workflow {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		return nil
	}
	wf := m.saved.Clone()
	return &wf
}

// Next validates the current phase and advances. Build and save are hard
// gates: their failure keeps the machine on the current phase.
func (m *Machine) Next(ctx context.Context) error {
	m.mu.Lock()
	if m.subFormOpen {
		m.mu.Unlock()
		return ErrSubFormOpen
	}
	seq := sequence(m.mode)
	if m.phaseIdx >= len(seq)-1 {
		m.mu.Unlock()
		return ErrAtFinalPhase
	}
	phase := seq[m.phaseIdx]
	m.mu.Unlock()

	switch phase {
	case PhaseIntegrations:
		return m.advanceFromIntegrations(ctx)
	case PhasePrompt:
		return m.advanceFromPrompt(ctx)
	case PhaseReview:
		return m.saveAndAdvance(ctx, PhaseReview)
	case PhaseBasic:
		return m.advanceFromBasic()
	case PhaseTryAndOutput:
		// The config variant saves the same way the workflow variant does.
		return m.saveAndAdvance(ctx, PhaseTryAndOutput)
	}
	return ErrAtFinalPhase
}

// ensurePhaseLocked re-checks the machine is still on the phase an advance
// handler was dispatched for. A concurrent Back between the phase snapshot
// and the handler's lock, or during an unlocked remote call, moves the
// machine; advancing from a phase it is no longer on must not happen.
func (m *Machine) ensurePhaseLocked(from Phase) error {
	if sequence(m.mode)[m.phaseIdx] != from {
		return ErrPhaseChanged
	}
	return nil
}

// Back moves one phase backwards. Leaving review discards held execution and
// result state: stale results must not survive into a phase where the
// workflow can be edited again.
func (m *Machine) Back() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subFormOpen {
		return ErrSubFormOpen
	}
	if m.phaseIdx == 0 {
		return ErrAtFirstPhase
	}
	leaving := sequence(m.mode)[m.phaseIdx]
	if leaving == PhaseReview || leaving == PhaseTryAndOutput {
		if m.session != nil {
			m.session.Tracker().Reset()
		}
		m.session = nil
	}
	m.phaseIdx--
	m.enterPhaseLocked()
	return nil
}

// enterPhaseLocked runs phase-entry side effects. Entering prompt discards
// any previously built workflow (a new build must be explicit); entering any
// phase clears the previous phase's field errors.
func (m *Machine) enterPhaseLocked() {
	m.fieldErrors = make(map[string]string)
	if sequence(m.mode)[m.phaseIdx] == PhasePrompt {
		m.built = nil
		m.session = nil
	}
}

func (m *Machine) advanceFromIntegrations(ctx context.Context) error {
	m.mu.Lock()
	if err := m.ensurePhaseLocked(PhaseIntegrations); err != nil {
		m.mu.Unlock()
		return err
	}
	if len(m.selected) == 0 {
		m.fieldErrors["integrations"] = "select at least one integration"
		m.mu.Unlock()
		return ErrValidation
	}
	m.phaseIdx++
	m.enterPhaseLocked()
	m.mu.Unlock()

	// Suggestion generation is best-effort; its failure surfaces a warning
	// and never blocks the phase change.
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.RefreshSuggestions(ctx)
	}()
	return nil
}

// RefreshSuggestions regenerates instruction suggestions for the current
// integration selection. Duplicate concurrent invocations are rejected.
func (m *Machine) RefreshSuggestions(ctx context.Context) {
	m.mu.Lock()
	if m.generating {
		m.mu.Unlock()
		return
	}
	m.generating = true
	integrations := make([]mintegration.Integration, 0, len(m.selected))
	for _, in := range m.selected {
		integrations = append(integrations, in)
	}
	m.mu.Unlock()

	suggestions, err := m.svc.GenerateInstructions(ctx, integrations)

	m.mu.Lock()
	m.generating = false
	if err == nil {
		m.suggestions = suggestions
	}
	m.mu.Unlock()

	if err != nil {
		m.logger.Warn("instruction suggestions unavailable", "error", err)
		m.notifier.Warning("Could not generate instruction suggestions: " + err.Error())
	}
}

// parsePayload accepts the payload text: empty means {}, anything else must
// be a JSON object.
func parsePayload(text string) (map[string]any, error) {
	if text == "" {
		return map[string]any{}, nil
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return nil, err
	}
	if payload == nil {
		payload = map[string]any{}
	}
	return payload, nil
}

func (m *Machine) advanceFromPrompt(ctx context.Context) error {
	m.mu.Lock()
	if err := m.ensurePhaseLocked(PhasePrompt); err != nil {
		m.mu.Unlock()
		return err
	}
	if m.building {
		m.mu.Unlock()
		return ErrAlreadyInFlight
	}
	m.fieldErrors = make(map[string]string)
	if m.instruction == "" {
		m.fieldErrors["instruction"] = "instruction is required"
	}
	payload, perr := parsePayload(m.payloadText)
	if perr != nil {
		m.fieldErrors["payload"] = "payload must be valid JSON"
	}
	if len(m.fieldErrors) > 0 {
		m.mu.Unlock()
		return ErrValidation
	}

	m.building = true
	req := engine.BuildRequest{
		Instruction: m.instruction,
		Payload:     payload,
	}
	for id := range m.selected {
		req.IntegrationIDs = append(req.IntegrationIDs, id)
	}
	sort.Strings(req.IntegrationIDs)
	m.mu.Unlock()

	wf, err := m.svc.BuildWorkflow(ctx, req)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.building = false
	if err != nil {
		m.notifier.Error("Workflow build failed: " + err.Error())
		return err
	}
	if perr := m.ensurePhaseLocked(PhasePrompt); perr != nil {
		return perr
	}
	m.built = &wf
	m.session = heal.NewSession(wf, nil)
	m.phaseIdx++
	m.enterPhaseLocked()
	return nil
}

func (m *Machine) saveAndAdvance(ctx context.Context, from Phase) error {
	m.mu.Lock()
	if err := m.ensurePhaseLocked(from); err != nil {
		m.mu.Unlock()
		return err
	}
	if m.saving {
		m.mu.Unlock()
		return ErrAlreadyInFlight
	}
	if m.session == nil {
		m.mu.Unlock()
		return errmap.Internal("review phase has no workflow session")
	}
	wf := m.session.WorkflowForSave()
	if wf.ID == "" {
		m.mu.Unlock()
		return errmap.Internal("workflow id is required for save")
	}
	m.saving = true
	m.mu.Unlock()

	saved, err := m.svc.UpsertWorkflow(ctx, wf.ID, wf)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.saving = false
	if err != nil {
		m.notifier.Error("Workflow save failed: " + err.Error())
		return err
	}
	if perr := m.ensurePhaseLocked(from); perr != nil {
		return perr
	}
	m.saved = &saved
	m.phaseIdx++
	m.enterPhaseLocked()
	return nil
}

func (m *Machine) advanceFromBasic() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensurePhaseLocked(PhaseBasic); err != nil {
		return err
	}
	m.fieldErrors = make(map[string]string)
	if len(m.selected) == 0 {
		m.fieldErrors["integrations"] = "select an integration"
	}
	if m.instruction == "" {
		m.fieldErrors["instruction"] = "instruction is required"
	}
	if len(m.fieldErrors) > 0 {
		return ErrValidation
	}
	m.phaseIdx++
	m.enterPhaseLocked()
	return nil
}
