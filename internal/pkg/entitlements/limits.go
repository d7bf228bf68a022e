package entitlements

// Dynamic (trackable) QR codes per plan. Trial accounts without a plan get the
// starter allowance; accounts without paid access get none.
var dynamicQRCodeLimits = map[Plan]int{
	PlanStarter:      5,
	PlanLite:         50,
	PlanBusiness:     250,
	PlanProfessional: 500,
}

// DynamicQRCodeLimit returns how many dynamic QR codes the entitlement allows.
func DynamicQRCodeLimit(ent Entitlement) int {
	if !ent.HasPaidAccess {
		return 0
	}
	if plan, ok := ParsePlan(ent.PlanID); ok {
		return dynamicQRCodeLimits[plan]
	}
	return dynamicQRCodeLimits[PlanStarter]
}

// AllowsDynamicQRCode reports whether one more dynamic QR code may be created
// given the number the account already owns.
func AllowsDynamicQRCode(ent Entitlement, existing int) bool {
	return existing < DynamicQRCodeLimit(ent)
}

// AllowsPremiumDesign gates logos, frames and non-default patterns.
func AllowsPremiumDesign(ent Entitlement) bool {
	return ent.HasPaidAccess
}
