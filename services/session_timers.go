package services

import (
	"log"
	"time"

	"mindscreen/models"
)

// Timer callbacks carry the token that was current when they were scheduled. A callback
// whose token no longer matches the entry has been superseded and does nothing.

// SetReminder schedules a one-shot reminder for an active or paused session,
// replacing any reminder already set.
func (e *AssessmentEngine) SetReminder(sessionID string, delay time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, err := e.lookupLocked(sessionID)
	if err != nil {
		return err
	}
	switch entry.session.Status {
	case models.SessionStatusCompleted:
		return models.NewSessionError(models.ErrCodeSessionAlreadyCompleted, sessionID, "")
	case models.SessionStatusAbandoned:
		return models.NewSessionError(models.ErrCodeSessionNotActive, sessionID, "session was abandoned")
	}
	if delay < 0 {
		delay = 0
	}
	e.scheduler.Cancel(entry.reminder)
	tok := e.nextToken()
	entry.reminderTok = tok
	entry.reminder = e.scheduler.Schedule(delay, func() { e.fireReminder(sessionID, tok) })
	log.Printf("INFO: [AssessmentEngine] Reminder for session '%s' set in %s.", sessionID, delay)
	return nil
}

func (e *AssessmentEngine) fireReminder(sessionID string, tok uint64) {
	e.mu.Lock()
	entry, ok := e.sessions[sessionID]
	if e.closed || !ok || entry.reminderTok != tok {
		e.mu.Unlock()
		return
	}
	entry.reminder, entry.reminderTok = 0, 0
	session := entry.session.Clone()
	notify := e.onReminder
	e.mu.Unlock()

	log.Printf("INFO: [AssessmentEngine] Reminder fired for session '%s' (status %s).", sessionID, session.Status)
	if notify != nil {
		notify(session)
	}
}

func (e *AssessmentEngine) armInactivityLocked(entry *sessionEntry) {
	e.scheduler.Cancel(entry.inactivity)
	tok := e.nextToken()
	sessionID := entry.session.ID
	entry.inactivityTok = tok
	entry.inactivity = e.scheduler.Schedule(e.inactivityTimeout, func() { e.onInactivity(sessionID, tok) })
}

func (e *AssessmentEngine) cancelInactivityLocked(entry *sessionEntry) {
	e.scheduler.Cancel(entry.inactivity)
	entry.inactivity, entry.inactivityTok = 0, 0
}

func (e *AssessmentEngine) cancelTimersLocked(entry *sessionEntry) {
	e.cancelInactivityLocked(entry)
	e.scheduler.Cancel(entry.reminder)
	entry.reminder, entry.reminderTok = 0, 0
}

func (e *AssessmentEngine) onInactivity(sessionID string, tok uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.sessions[sessionID]
	if e.closed || !ok || entry.inactivityTok != tok || entry.session.Status != models.SessionStatusActive {
		return
	}
	entry.inactivity, entry.inactivityTok = 0, 0
	e.pauseLocked(entry)
	log.Printf("INFO: [AssessmentEngine] Session '%s' paused after %s of inactivity.", sessionID, e.inactivityTimeout)
}

func (e *AssessmentEngine) armAutoSaveLocked() {
	if e.autoSaveInterval <= 0 || e.closed {
		return
	}
	tok := e.nextToken()
	e.autoSaveTok = tok
	e.autoSave = e.scheduler.Schedule(e.autoSaveInterval, func() { e.onAutoSave(tok) })
}

func (e *AssessmentEngine) onAutoSave(tok uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.autoSaveTok != tok {
		return
	}
	e.persistLocked()
	e.armAutoSaveLocked()
}
