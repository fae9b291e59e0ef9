package logic

// Classify maps a power reading (watts) to a raw state.
// Every boundary is exclusive except burn_max, which still counts as burn.
func Classify(watts float64, t Thresholds) State {
	switch {
	case watts < t.Arret:
		return StateArret
	case watts < t.Nuit:
		return StateNuit
	case watts < t.Pompe:
		return StatePompe
	case watts < t.Prechauffage:
		return StatePrechauffage
	case watts < t.Postcirc:
		return StatePostcirc
	case watts <= t.BurnMax:
		return StateBurn
	default:
		return StateHorsPlage
	}
}
