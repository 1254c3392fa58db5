package domain

// CarrierPatch is the change a carrier observation makes to one order.
type CarrierPatch struct {
	Status         OrderStatus
	PreviousStatus OrderStatus
	CarrierStatus  string
	StatusChanged  bool
	RawChanged     bool
}

// Changed reports whether the order must be written.
func (p CarrierPatch) Changed() bool {
	return p.StatusChanged || p.RawChanged
}

// PlanCarrierPatch decides how a raw carrier status and its mapped status (empty when the raw value
// is unknown or pre-pickup) affect order. The raw string is always recorded when it differs; the
// status moves only along an allowed transition, so terminal orders keep their status.
func PlanCarrierPatch(order Order, raw string, mapped OrderStatus) CarrierPatch {
	patch := CarrierPatch{
		Status:         order.Status,
		PreviousStatus: order.Status,
		CarrierStatus:  raw,
		RawChanged:     raw != order.CarrierStatus,
	}
	if mapped != "" && mapped != order.Status && order.Status.CanTransitionTo(mapped) {
		patch.Status = mapped
		patch.StatusChanged = true
	}
	return patch
}
