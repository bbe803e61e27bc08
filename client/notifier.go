package client

import (
	log "github.com/sirupsen/logrus"

	"prism-board/board"
)

// LogNotifier reports failed batches as logrus errors.
type LogNotifier struct {
	Logger *log.Logger
}

func (n LogNotifier) NotifyFailure(f board.Failure) {
	logger := n.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	logger.WithError(f.Err).WithFields(log.Fields{
		"boardId": f.BoardID,
		"kind":    string(f.Kind),
		"failed":  f.FailedIDs,
		"total":   f.Total,
	}).Error("could not save board changes")
}
