package entities

// Intent is a detected conversation intent.
type Intent string

const (
	IntentUnknown Intent = "unknown"

	// Appointment-related
	IntentBookingAppointment      Intent = "booking_appointment"
	IntentCancelingAppointment    Intent = "canceling_appointment"
	IntentReschedulingAppointment Intent = "rescheduling_appointment"

	// Dental services
	IntentCleaningInquiry     Intent = "cleaning_inquiry"
	IntentRootCanalInquiry    Intent = "root_canal_inquiry"
	IntentCrownInquiry        Intent = "crown_inquiry"
	IntentFillingInquiry      Intent = "filling_inquiry"
	IntentExtractionInquiry   Intent = "extraction_inquiry"
	IntentOrthodonticsInquiry Intent = "orthodontics_inquiry"
	IntentCosmeticInquiry     Intent = "cosmetic_inquiry"

	// General
	IntentGeneralInquiry   Intent = "general_inquiry"
	IntentInsuranceInquiry Intent = "insurance_inquiry"
	IntentPricingInquiry   Intent = "pricing_inquiry"
	IntentHoursInquiry     Intent = "hours_inquiry"
	IntentLocationInquiry  Intent = "location_inquiry"

	// Urgent / special
	IntentEmergency     Intent = "emergency"
	IntentPainComplaint Intent = "pain_complaint"
	IntentComplaint     Intent = "complaint"
	IntentFeedback      Intent = "feedback"
)

// IntentCategory groups intents for routing and reporting.
type IntentCategory string

const (
	CategoryGeneral       IntentCategory = "general"
	CategoryAppointment   IntentCategory = "appointment"
	CategoryDentalService IntentCategory = "dental_service"
	CategoryUrgent        IntentCategory = "urgent"
	CategoryFeedback      IntentCategory = "feedback"
)

// intentCategories is the explicit intent-to-category mapping. Intents absent
// from the table fall back to the general category.
var intentCategories = map[Intent]IntentCategory{
	IntentBookingAppointment:      CategoryAppointment,
	IntentCancelingAppointment:    CategoryAppointment,
	IntentReschedulingAppointment: CategoryAppointment,
	IntentCleaningInquiry:         CategoryDentalService,
	IntentRootCanalInquiry:        CategoryDentalService,
	IntentCrownInquiry:            CategoryDentalService,
	IntentFillingInquiry:          CategoryDentalService,
	IntentExtractionInquiry:       CategoryDentalService,
	IntentOrthodonticsInquiry:     CategoryDentalService,
	IntentCosmeticInquiry:         CategoryDentalService,
	IntentInsuranceInquiry:        CategoryDentalService,
	IntentPricingInquiry:          CategoryDentalService,
	IntentEmergency:               CategoryUrgent,
	IntentPainComplaint:           CategoryUrgent,
	IntentComplaint:               CategoryFeedback,
	IntentFeedback:                CategoryFeedback,
}

// Category returns the category this intent belongs to.
func (i Intent) Category() IntentCategory {
	if c, ok := intentCategories[i]; ok {
		return c
	}
	return CategoryGeneral
}
