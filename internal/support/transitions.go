package support

import "github.com/example/battery-swap/internal/models"

// Closed has no outgoing edges and only Close may enter it.
var transitionMap = map[models.SupportStatus][]models.SupportStatus{
	models.SupportInProgress: {models.SupportResolved, models.SupportCompleted},
	models.SupportResolved:   {models.SupportInProgress, models.SupportCompleted},
	models.SupportCompleted:  {models.SupportClosed},
}

func ValidTransition(from, to models.SupportStatus) bool {
	for _, status := range transitionMap[from] {
		if status == to {
			return true
		}
	}
	return false
}
