package inventory

import "github.com/example/battery-swap/internal/models"

// Faulty is deliberately absent: it is only reachable through MarkFaulty and
// only left through Repair.
var transitionMap = map[models.BatteryStatus][]models.BatteryStatus{
	models.BatteryIdle:     {models.BatteryCharging, models.BatteryFull, models.BatteryBooked, models.BatteryInUse},
	models.BatteryFull:     {models.BatteryIdle, models.BatteryCharging, models.BatteryBooked, models.BatteryInUse},
	models.BatteryCharging: {models.BatteryIdle, models.BatteryFull, models.BatteryBooked, models.BatteryInUse},
	models.BatteryBooked:   {models.BatteryIdle, models.BatteryFull, models.BatteryCharging, models.BatteryInUse},
	models.BatteryInUse:    {models.BatteryIdle, models.BatteryFull, models.BatteryCharging, models.BatteryBooked},
}

func ValidTransition(from, to models.BatteryStatus) bool {
	if from == to {
		return from != models.BatteryFaulty
	}
	allowed, ok := transitionMap[from]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == to {
			return true
		}
	}
	return false
}

func validBatteryStatus(s models.BatteryStatus) bool {
	switch s {
	case models.BatteryIdle, models.BatteryCharging, models.BatteryFull,
		models.BatteryFaulty, models.BatteryInUse, models.BatteryBooked:
		return true
	}
	return false
}

// blocked slots cannot be reserved or receive batteries.
func blocked(s models.SlotStatus) bool {
	return s == models.SlotLocked || s == models.SlotMaintenance || s == models.SlotError
}
