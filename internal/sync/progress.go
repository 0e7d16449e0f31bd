package sync

// EventKind identifies a sync progress event.
type EventKind string

// Event kinds, in emission order: one start, then for each project
// a project_start / session_start / session_done ... project_done
// run, then one done.
const (
	EventStart        EventKind = "start"
	EventProjectStart EventKind = "project_start"
	EventSessionStart EventKind = "session_start"
	EventSessionDone  EventKind = "session_done"
	EventProjectDone  EventKind = "project_done"
	EventDone         EventKind = "done"
)

// Event is one progress notification emitted during a sync pass.
// Only the fields relevant to the kind are set. The engine keeps
// no cumulative progress state; consumers fold events themselves
// (see Progress.Apply).
type Event struct {
	Kind     EventKind `json:"kind"`
	Project  string    `json:"project,omitempty"`
	Session  string    `json:"session,omitempty"`
	Projects int       `json:"projects,omitempty"`
	Sessions int       `json:"sessions,omitempty"`
	Messages int       `json:"messages,omitempty"`
}

// EventFunc receives progress events during sync. Nil disables
// progress reporting.
type EventFunc func(Event)

func emit(fn EventFunc, ev Event) {
	if fn != nil {
		fn(ev)
	}
}

// Phase describes the current sync phase.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseDiscovering Phase = "discovering"
	PhaseSyncing     Phase = "syncing"
	PhaseDone        Phase = "done"
)

// Progress is a cumulative view of a sync pass, built by folding
// the event stream. Session totals are not known upfront: each
// project_start adds its own session count.
type Progress struct {
	Phase           Phase  `json:"phase"`
	CurrentProject  string `json:"current_project,omitempty"`
	CurrentSession  string `json:"current_session,omitempty"`
	ProjectsTotal   int    `json:"projects_total"`
	ProjectsDone    int    `json:"projects_done"`
	SessionsTotal   int    `json:"sessions_total"`
	SessionsDone    int    `json:"sessions_done"`
	MessagesIndexed int    `json:"messages_indexed"`
}

// Apply folds one event into the cumulative view.
func (p *Progress) Apply(ev Event) {
	switch ev.Kind {
	case EventStart:
		*p = Progress{
			Phase:         PhaseDiscovering,
			ProjectsTotal: ev.Projects,
		}
	case EventProjectStart:
		p.Phase = PhaseSyncing
		p.CurrentProject = ev.Project
		p.SessionsTotal += ev.Sessions
	case EventSessionStart:
		p.CurrentSession = ev.Session
	case EventSessionDone:
		p.SessionsDone++
		p.MessagesIndexed += ev.Messages
	case EventProjectDone:
		p.ProjectsDone++
	case EventDone:
		p.Phase = PhaseDone
		p.CurrentProject = ""
		p.CurrentSession = ""
	}
}

// Percent returns session completion as a percentage (0-100).
func (p Progress) Percent() float64 {
	if p.SessionsTotal == 0 {
		return 0
	}
	return float64(p.SessionsDone) /
		float64(p.SessionsTotal) * 100
}

// SyncResult describes the outcome of syncing a single session file.
type SyncResult struct {
	SessionID string `json:"session_id"`
	Project   string `json:"project"`
	Skipped   bool   `json:"skipped"`
	Messages  int    `json:"messages"`
}

// SyncStats summarizes a full sync pass. Failed counts sessions
// whose parse or copy failed; those are contained, recorded with
// zero messages, and do not abort the pass.
type SyncStats struct {
	TotalSessions int `json:"total_sessions"`
	Synced        int `json:"synced"`
	Skipped       int `json:"skipped"`
	Failed        int `json:"failed"`
}

// RecordSkip increments the skipped session counter.
func (s *SyncStats) RecordSkip() {
	s.Skipped++
}

// RecordSynced increments the synced session counter.
func (s *SyncStats) RecordSynced() {
	s.Synced++
}

// RecordFailed increments the contained-failure counter.
func (s *SyncStats) RecordFailed() {
	s.Failed++
}
