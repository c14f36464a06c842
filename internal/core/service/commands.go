package service

type EnqueueCommand struct {
	SubjectID     string
	Kind          string
	ParticipantID string
}
