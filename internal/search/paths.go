package search

import "sort"

// ParamType classifies how a search parameter's values are extracted,
// indexed, and compared.
type ParamType string

const (
	TypeString    ParamType = "string"
	TypeToken     ParamType = "token"
	TypeDate      ParamType = "date"
	TypeNumber    ParamType = "number"
	TypeQuantity  ParamType = "quantity"
	TypeReference ParamType = "reference"
	TypeURI       ParamType = "uri"
)

// ParamDef maps one search parameter to the document paths it reads.
// Reference parameters carry the set of target resource types, used by
// chaining to decide which type the right-hand side searches.
type ParamDef struct {
	Name    string
	Type    ParamType
	Paths   []string
	Targets []string
}

// ComponentDef is one half of a composite parameter, addressed relative to
// the composite's root element.
type ComponentDef struct {
	Name string
	Type ParamType
	Path string
}

// CompositeDef correlates two components extracted from the same instance
// of a repeating element. Root "" anchors the components at the resource
// root.
type CompositeDef struct {
	Name       string
	Root       string
	Components []ComponentDef
}

// TypeDef is the full search surface of one resource type.
type TypeDef struct {
	Params     []ParamDef
	Composites []CompositeDef
}

// Defs returns the mapping table for a resource type. Types absent from the
// table support only _id and _lastUpdated.
func Defs(resourceType string) (TypeDef, bool) {
	d, ok := typeDefs[resourceType]
	return d, ok
}

// ParamDefFor looks up one named parameter on a type.
func ParamDefFor(resourceType, name string) (ParamDef, bool) {
	d, ok := typeDefs[resourceType]
	if !ok {
		return ParamDef{}, false
	}
	for _, p := range d.Params {
		if p.Name == name {
			return p, true
		}
	}
	return ParamDef{}, false
}

// CompositeDefFor looks up one named composite parameter on a type.
func CompositeDefFor(resourceType, name string) (CompositeDef, bool) {
	d, ok := typeDefs[resourceType]
	if !ok {
		return CompositeDef{}, false
	}
	for _, c := range d.Composites {
		if c.Name == name {
			return c, true
		}
	}
	return CompositeDef{}, false
}

// ResourceTypes returns every mapped resource type, sorted.
func ResourceTypes() []string {
	out := make([]string, 0, len(typeDefs))
	for t := range typeDefs {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Supported reports whether a resource type is in the mapping table.
func Supported(resourceType string) bool {
	_, ok := typeDefs[resourceType]
	return ok
}

// Shorthand constructors keep the table below readable.
func p(name string, t ParamType, paths ...string) ParamDef {
	return ParamDef{Name: name, Type: t, Paths: paths}
}

func ref(name string, path string, targets ...string) ParamDef {
	return ParamDef{Name: name, Type: TypeReference, Paths: []string{path}, Targets: targets}
}

var typeDefs = map[string]TypeDef{
	"Patient": {
		Params: []ParamDef{
			p("name", TypeString, "name[*].family", "name[*].given[*]", "name[*].text"),
			p("family", TypeString, "name[*].family"),
			p("given", TypeString, "name[*].given[*]"),
			p("identifier", TypeToken, "identifier[*]"),
			p("gender", TypeToken, "gender"),
			p("birthdate", TypeDate, "birthDate"),
			p("death-date", TypeDate, "deceasedDateTime"),
			p("address", TypeString, "address[*].line[*]", "address[*].city", "address[*].state", "address[*].postalCode"),
			p("address-city", TypeString, "address[*].city"),
			p("address-state", TypeString, "address[*].state"),
			p("address-postalcode", TypeString, "address[*].postalCode"),
			p("phone", TypeToken, "telecom[system=phone].value"),
			p("email", TypeToken, "telecom[system=email].value"),
			p("language", TypeToken, "communication[*].language"),
			ref("general-practitioner", "generalPractitioner[*].reference", "Practitioner", "PractitionerRole", "Organization"),
			ref("organization", "managingOrganization.reference", "Organization"),
			ref("link", "link[*].other.reference", "Patient", "RelatedPerson"),
			p("active", TypeToken, "active"),
		},
	},
	"Observation": {
		Params: []ParamDef{
			p("code", TypeToken, "code"),
			p("category", TypeToken, "category[*]"),
			p("status", TypeToken, "status"),
			p("date", TypeDate, "effectiveDateTime", "effectivePeriod.start"),
			p("value-quantity", TypeQuantity, "valueQuantity"),
			p("value-concept", TypeToken, "valueCodeableConcept"),
			p("value-string", TypeString, "valueString"),
			p("component-code", TypeToken, "component[*].code"),
			p("component-value-quantity", TypeQuantity, "component[*].valueQuantity"),
			p("identifier", TypeToken, "identifier[*]"),
			ref("patient", "subject.reference", "Patient"),
			ref("subject", "subject.reference", "Patient", "Group", "Device", "Location"),
			ref("encounter", "encounter.reference", "Encounter"),
			ref("performer", "performer[*].reference", "Practitioner", "PractitionerRole", "Organization", "CareTeam", "Patient", "RelatedPerson"),
		},
		Composites: []CompositeDef{
			{
				Name: "code-value-quantity",
				Root: "",
				Components: []ComponentDef{
					{Name: "code", Type: TypeToken, Path: "code"},
					{Name: "value", Type: TypeQuantity, Path: "valueQuantity"},
				},
			},
			{
				Name: "component-code-value-quantity",
				Root: "component[*]",
				Components: []ComponentDef{
					{Name: "code", Type: TypeToken, Path: "code"},
					{Name: "value", Type: TypeQuantity, Path: "valueQuantity"},
				},
			},
		},
	},
	"Condition": {
		Params: []ParamDef{
			p("code", TypeToken, "code"),
			p("category", TypeToken, "category[*]"),
			p("clinical-status", TypeToken, "clinicalStatus"),
			p("verification-status", TypeToken, "verificationStatus"),
			p("severity", TypeToken, "severity"),
			p("onset-date", TypeDate, "onsetDateTime"),
			p("recorded-date", TypeDate, "recordedDate"),
			p("abatement-date", TypeDate, "abatementDateTime"),
			p("identifier", TypeToken, "identifier[*]"),
			ref("patient", "subject.reference", "Patient"),
			ref("subject", "subject.reference", "Patient", "Group"),
			ref("encounter", "encounter.reference", "Encounter"),
			ref("asserter", "asserter.reference", "Practitioner", "PractitionerRole", "Patient", "RelatedPerson"),
		},
	},
	"Encounter": {
		Params: []ParamDef{
			p("status", TypeToken, "status"),
			p("class", TypeToken, "class"),
			p("type", TypeToken, "type[*]"),
			p("date", TypeDate, "period.start"),
			p("identifier", TypeToken, "identifier[*]"),
			p("reason-code", TypeToken, "reasonCode[*]"),
			ref("patient", "subject.reference", "Patient"),
			ref("subject", "subject.reference", "Patient", "Group"),
			ref("participant", "participant[*].individual.reference", "Practitioner", "PractitionerRole", "RelatedPerson"),
			ref("practitioner", "participant[*].individual.reference", "Practitioner"),
			ref("location", "location[*].location.reference", "Location"),
			ref("service-provider", "serviceProvider.reference", "Organization"),
			ref("part-of", "partOf.reference", "Encounter"),
		},
	},
	"Procedure": {
		Params: []ParamDef{
			p("code", TypeToken, "code"),
			p("status", TypeToken, "status"),
			p("date", TypeDate, "performedDateTime", "performedPeriod.start"),
			p("identifier", TypeToken, "identifier[*]"),
			ref("patient", "subject.reference", "Patient"),
			ref("subject", "subject.reference", "Patient", "Group"),
			ref("encounter", "encounter.reference", "Encounter"),
			ref("performer", "performer[*].actor.reference", "Practitioner", "PractitionerRole", "Organization", "Patient", "RelatedPerson"),
			ref("location", "location.reference", "Location"),
		},
	},
	"MedicationRequest": {
		Params: []ParamDef{
			p("status", TypeToken, "status"),
			p("intent", TypeToken, "intent"),
			p("code", TypeToken, "medicationCodeableConcept"),
			p("medication-code", TypeToken, "medicationCodeableConcept"),
			p("authoredon", TypeDate, "authoredOn"),
			p("identifier", TypeToken, "identifier[*]"),
			ref("patient", "subject.reference", "Patient"),
			ref("subject", "subject.reference", "Patient", "Group"),
			ref("encounter", "encounter.reference", "Encounter"),
			ref("requester", "requester.reference", "Practitioner", "PractitionerRole", "Organization", "Patient", "RelatedPerson", "Device"),
			ref("medication", "medicationReference.reference", "Medication"),
		},
	},
	"MedicationAdministration": {
		Params: []ParamDef{
			p("status", TypeToken, "status"),
			p("code", TypeToken, "medicationCodeableConcept"),
			p("effective-time", TypeDate, "effectiveDateTime", "effectivePeriod.start"),
			ref("patient", "subject.reference", "Patient"),
			ref("subject", "subject.reference", "Patient", "Group"),
			ref("context", "context.reference", "Encounter", "EpisodeOfCare"),
			ref("request", "request.reference", "MedicationRequest"),
			ref("medication", "medicationReference.reference", "Medication"),
		},
	},
	"MedicationDispense": {
		Params: []ParamDef{
			p("status", TypeToken, "status"),
			p("code", TypeToken, "medicationCodeableConcept"),
			p("whenhandedover", TypeDate, "whenHandedOver"),
			ref("patient", "subject.reference", "Patient"),
			ref("subject", "subject.reference", "Patient", "Group"),
			ref("prescription", "authorizingPrescription[*].reference", "MedicationRequest"),
			ref("medication", "medicationReference.reference", "Medication"),
		},
	},
	"MedicationStatement": {
		Params: []ParamDef{
			p("status", TypeToken, "status"),
			p("code", TypeToken, "medicationCodeableConcept"),
			p("effective", TypeDate, "effectiveDateTime", "effectivePeriod.start"),
			ref("patient", "subject.reference", "Patient"),
			ref("subject", "subject.reference", "Patient", "Group"),
			ref("medication", "medicationReference.reference", "Medication"),
		},
	},
	"Medication": {
		Params: []ParamDef{
			p("code", TypeToken, "code"),
			p("status", TypeToken, "status"),
			p("identifier", TypeToken, "identifier[*]"),
		},
	},
	"Immunization": {
		Params: []ParamDef{
			p("vaccine-code", TypeToken, "vaccineCode"),
			p("status", TypeToken, "status"),
			p("date", TypeDate, "occurrenceDateTime"),
			p("identifier", TypeToken, "identifier[*]"),
			ref("patient", "patient.reference", "Patient"),
			ref("location", "location.reference", "Location"),
			ref("performer", "performer[*].actor.reference", "Practitioner", "PractitionerRole", "Organization"),
		},
	},
	"AllergyIntolerance": {
		Params: []ParamDef{
			p("code", TypeToken, "code"),
			p("category", TypeToken, "category[*]"),
			p("clinical-status", TypeToken, "clinicalStatus"),
			p("verification-status", TypeToken, "verificationStatus"),
			p("criticality", TypeToken, "criticality"),
			p("date", TypeDate, "recordedDate"),
			ref("patient", "patient.reference", "Patient"),
			ref("recorder", "recorder.reference", "Practitioner", "PractitionerRole", "Patient", "RelatedPerson"),
		},
	},
	"DiagnosticReport": {
		Params: []ParamDef{
			p("code", TypeToken, "code"),
			p("category", TypeToken, "category[*]"),
			p("status", TypeToken, "status"),
			p("date", TypeDate, "effectiveDateTime", "effectivePeriod.start"),
			p("issued", TypeDate, "issued"),
			p("identifier", TypeToken, "identifier[*]"),
			ref("patient", "subject.reference", "Patient"),
			ref("subject", "subject.reference", "Patient", "Group", "Device", "Location"),
			ref("encounter", "encounter.reference", "Encounter"),
			ref("performer", "performer[*].reference", "Practitioner", "PractitionerRole", "Organization", "CareTeam"),
			ref("result", "result[*].reference", "Observation"),
		},
	},
	"DocumentReference": {
		Params: []ParamDef{
			p("status", TypeToken, "status"),
			p("type", TypeToken, "type"),
			p("category", TypeToken, "category[*]"),
			p("date", TypeDate, "date"),
			p("identifier", TypeToken, "identifier[*]"),
			ref("patient", "subject.reference", "Patient"),
			ref("subject", "subject.reference", "Patient", "Practitioner", "Group", "Device"),
			ref("encounter", "context.encounter[*].reference", "Encounter"),
			ref("author", "author[*].reference", "Practitioner", "PractitionerRole", "Organization", "Device", "Patient", "RelatedPerson"),
			ref("custodian", "custodian.reference", "Organization"),
		},
	},
	"CarePlan": {
		Params: []ParamDef{
			p("status", TypeToken, "status"),
			p("intent", TypeToken, "intent"),
			p("category", TypeToken, "category[*]"),
			p("date", TypeDate, "period.start"),
			ref("patient", "subject.reference", "Patient"),
			ref("subject", "subject.reference", "Patient", "Group"),
			ref("encounter", "encounter.reference", "Encounter"),
			ref("care-team", "careTeam[*].reference", "CareTeam"),
		},
	},
	"CareTeam": {
		Params: []ParamDef{
			p("status", TypeToken, "status"),
			p("date", TypeDate, "period.start"),
			ref("patient", "subject.reference", "Patient"),
			ref("subject", "subject.reference", "Patient", "Group"),
			ref("encounter", "encounter.reference", "Encounter"),
			ref("participant", "participant[*].member.reference", "Practitioner", "PractitionerRole", "Organization", "Patient", "RelatedPerson", "CareTeam"),
		},
	},
	"Goal": {
		Params: []ParamDef{
			p("lifecycle-status", TypeToken, "lifecycleStatus"),
			p("target-date", TypeDate, "target[*].dueDate"),
			ref("patient", "subject.reference", "Patient"),
			ref("subject", "subject.reference", "Patient", "Group", "Organization"),
		},
	},
	"ServiceRequest": {
		Params: []ParamDef{
			p("code", TypeToken, "code"),
			p("status", TypeToken, "status"),
			p("intent", TypeToken, "intent"),
			p("authored", TypeDate, "authoredOn"),
			ref("patient", "subject.reference", "Patient"),
			ref("subject", "subject.reference", "Patient", "Group", "Location", "Device"),
			ref("encounter", "encounter.reference", "Encounter"),
			ref("requester", "requester.reference", "Practitioner", "PractitionerRole", "Organization", "Patient", "RelatedPerson", "Device"),
			ref("performer", "performer[*].reference", "Practitioner", "PractitionerRole", "Organization", "CareTeam", "Patient", "Device", "RelatedPerson", "HealthcareService"),
		},
	},
	"Claim": {
		Params: []ParamDef{
			p("status", TypeToken, "status"),
			p("use", TypeToken, "use"),
			p("created", TypeDate, "created"),
			p("identifier", TypeToken, "identifier[*]"),
			ref("patient", "patient.reference", "Patient"),
			ref("provider", "provider.reference", "Practitioner", "PractitionerRole", "Organization"),
			ref("insurer", "insurer.reference", "Organization"),
			ref("encounter", "item[*].encounter[*].reference", "Encounter"),
		},
	},
	"ExplanationOfBenefit": {
		Params: []ParamDef{
			p("status", TypeToken, "status"),
			p("created", TypeDate, "created"),
			p("identifier", TypeToken, "identifier[*]"),
			ref("patient", "patient.reference", "Patient"),
			ref("provider", "provider.reference", "Practitioner", "PractitionerRole", "Organization"),
			ref("claim", "claim.reference", "Claim"),
			ref("coverage", "insurance[*].coverage.reference", "Coverage"),
		},
	},
	"Coverage": {
		Params: []ParamDef{
			p("status", TypeToken, "status"),
			p("type", TypeToken, "type"),
			p("identifier", TypeToken, "identifier[*]"),
			ref("patient", "beneficiary.reference", "Patient"),
			ref("beneficiary", "beneficiary.reference", "Patient"),
			ref("payor", "payor[*].reference", "Organization", "Patient", "RelatedPerson"),
			ref("subscriber", "subscriber.reference", "Patient", "RelatedPerson"),
		},
	},
	"Device": {
		Params: []ParamDef{
			p("status", TypeToken, "status"),
			p("type", TypeToken, "type"),
			p("identifier", TypeToken, "identifier[*]"),
			p("udi-carrier", TypeString, "udiCarrier[*].carrierHRF"),
			ref("patient", "patient.reference", "Patient"),
			ref("organization", "owner.reference", "Organization"),
			ref("location", "location.reference", "Location"),
		},
	},
	"ImagingStudy": {
		Params: []ParamDef{
			p("status", TypeToken, "status"),
			p("started", TypeDate, "started"),
			p("identifier", TypeToken, "identifier[*]"),
			p("modality", TypeToken, "series[*].modality"),
			ref("patient", "subject.reference", "Patient"),
			ref("subject", "subject.reference", "Patient", "Group", "Device"),
			ref("encounter", "encounter.reference", "Encounter"),
		},
	},
	"Organization": {
		Params: []ParamDef{
			p("name", TypeString, "name", "alias[*]"),
			p("identifier", TypeToken, "identifier[*]"),
			p("type", TypeToken, "type[*]"),
			p("active", TypeToken, "active"),
			p("address", TypeString, "address[*].line[*]", "address[*].city", "address[*].state", "address[*].postalCode"),
			p("address-city", TypeString, "address[*].city"),
			ref("partof", "partOf.reference", "Organization"),
		},
	},
	"Practitioner": {
		Params: []ParamDef{
			p("name", TypeString, "name[*].family", "name[*].given[*]", "name[*].text"),
			p("family", TypeString, "name[*].family"),
			p("given", TypeString, "name[*].given[*]"),
			p("identifier", TypeToken, "identifier[*]"),
			p("gender", TypeToken, "gender"),
			p("active", TypeToken, "active"),
			p("email", TypeToken, "telecom[system=email].value"),
		},
	},
	"PractitionerRole": {
		Params: []ParamDef{
			p("identifier", TypeToken, "identifier[*]"),
			p("active", TypeToken, "active"),
			p("role", TypeToken, "code[*]"),
			p("specialty", TypeToken, "specialty[*]"),
			ref("practitioner", "practitioner.reference", "Practitioner"),
			ref("organization", "organization.reference", "Organization"),
			ref("location", "location[*].reference", "Location"),
		},
	},
	"Location": {
		Params: []ParamDef{
			p("name", TypeString, "name", "alias[*]"),
			p("identifier", TypeToken, "identifier[*]"),
			p("status", TypeToken, "status"),
			p("type", TypeToken, "type[*]"),
			p("address", TypeString, "address.line[*]", "address.city", "address.state", "address.postalCode"),
			p("address-city", TypeString, "address.city"),
			ref("organization", "managingOrganization.reference", "Organization"),
			ref("partof", "partOf.reference", "Location"),
		},
	},
	"Provenance": {
		Params: []ParamDef{
			p("recorded", TypeDate, "recorded"),
			ref("patient", "target[*].reference", "Patient"),
			ref("target", "target[*].reference"),
			ref("agent", "agent[*].who.reference", "Practitioner", "PractitionerRole", "Organization", "Device", "Patient", "RelatedPerson"),
		},
	},
	"SupplyDelivery": {
		Params: []ParamDef{
			p("status", TypeToken, "status"),
			ref("patient", "patient.reference", "Patient"),
			ref("supplier", "supplier.reference", "Practitioner", "PractitionerRole", "Organization"),
		},
	},
	"RelatedPerson": {
		Params: []ParamDef{
			p("name", TypeString, "name[*].family", "name[*].given[*]", "name[*].text"),
			p("identifier", TypeToken, "identifier[*]"),
			p("gender", TypeToken, "gender"),
			p("birthdate", TypeDate, "birthDate"),
			p("relationship", TypeToken, "relationship[*]"),
			ref("patient", "patient.reference", "Patient"),
		},
	},
	"Specimen": {
		Params: []ParamDef{
			p("type", TypeToken, "type"),
			p("status", TypeToken, "status"),
			p("collected", TypeDate, "collection.collectedDateTime"),
			p("identifier", TypeToken, "identifier[*]"),
			ref("patient", "subject.reference", "Patient"),
			ref("subject", "subject.reference", "Patient", "Group", "Device", "Location"),
		},
	},
	"QuestionnaireResponse": {
		Params: []ParamDef{
			p("status", TypeToken, "status"),
			p("authored", TypeDate, "authored"),
			p("identifier", TypeToken, "identifier"),
			p("questionnaire", TypeURI, "questionnaire"),
			ref("patient", "subject.reference", "Patient"),
			ref("subject", "subject.reference"),
			ref("encounter", "encounter.reference", "Encounter"),
			ref("author", "author.reference", "Practitioner", "PractitionerRole", "Patient", "RelatedPerson", "Device", "Organization"),
		},
	},
	"Appointment": {
		Params: []ParamDef{
			p("status", TypeToken, "status"),
			p("date", TypeDate, "start"),
			p("identifier", TypeToken, "identifier[*]"),
			p("service-type", TypeToken, "serviceType[*]"),
			ref("patient", "participant[*].actor.reference", "Patient"),
			ref("actor", "participant[*].actor.reference", "Patient", "Practitioner", "PractitionerRole", "RelatedPerson", "Device", "HealthcareService", "Location"),
			ref("practitioner", "participant[*].actor.reference", "Practitioner"),
			ref("location", "participant[*].actor.reference", "Location"),
		},
	},
	"Schedule": {
		Params: []ParamDef{
			p("active", TypeToken, "active"),
			p("identifier", TypeToken, "identifier[*]"),
			ref("actor", "actor[*].reference", "Patient", "Practitioner", "PractitionerRole", "RelatedPerson", "Device", "HealthcareService", "Location"),
		},
	},
	"Slot": {
		Params: []ParamDef{
			p("status", TypeToken, "status"),
			p("start", TypeDate, "start"),
			p("identifier", TypeToken, "identifier[*]"),
			ref("schedule", "schedule.reference", "Schedule"),
		},
	},
	"Communication": {
		Params: []ParamDef{
			p("status", TypeToken, "status"),
			p("category", TypeToken, "category[*]"),
			p("sent", TypeDate, "sent"),
			p("received", TypeDate, "received"),
			ref("patient", "subject.reference", "Patient"),
			ref("subject", "subject.reference", "Patient", "Group"),
			ref("encounter", "encounter.reference", "Encounter"),
			ref("sender", "sender.reference", "Practitioner", "PractitionerRole", "Organization", "Patient", "RelatedPerson", "Device", "HealthcareService"),
			ref("recipient", "recipient[*].reference", "Practitioner", "PractitionerRole", "Organization", "Patient", "RelatedPerson", "Device", "Group", "CareTeam", "HealthcareService"),
		},
	},
	"NutritionOrder": {
		Params: []ParamDef{
			p("status", TypeToken, "status"),
			p("datetime", TypeDate, "dateTime"),
			ref("patient", "patient.reference", "Patient"),
			ref("encounter", "encounter.reference", "Encounter"),
		},
	},
	"RiskAssessment": {
		Params: []ParamDef{
			p("status", TypeToken, "status"),
			p("date", TypeDate, "occurrenceDateTime"),
			p("method", TypeToken, "method"),
			p("probability", TypeNumber, "prediction[*].probabilityDecimal"),
			ref("patient", "subject.reference", "Patient"),
			ref("subject", "subject.reference", "Patient", "Group"),
			ref("encounter", "encounter.reference", "Encounter"),
			ref("condition", "condition.reference", "Condition"),
		},
	},
	"Consent": {
		Params: []ParamDef{
			p("status", TypeToken, "status"),
			p("scope", TypeToken, "scope"),
			p("category", TypeToken, "category[*]"),
			p("date", TypeDate, "dateTime"),
			ref("patient", "patient.reference", "Patient"),
			ref("organization", "organization[*].reference", "Organization"),
		},
	},
	"Group": {
		Params: []ParamDef{
			p("type", TypeToken, "type"),
			p("actual", TypeToken, "actual"),
			p("identifier", TypeToken, "identifier[*]"),
			ref("member", "member[*].entity.reference", "Patient", "Practitioner", "PractitionerRole", "Device", "Medication", "Substance", "Group"),
			ref("managing-entity", "managingEntity.reference", "Organization", "RelatedPerson", "Practitioner", "PractitionerRole"),
		},
	},
	"List": {
		Params: []ParamDef{
			p("status", TypeToken, "status"),
			p("code", TypeToken, "code"),
			p("title", TypeString, "title"),
			p("date", TypeDate, "date"),
			ref("patient", "subject.reference", "Patient"),
			ref("subject", "subject.reference", "Patient", "Group", "Device", "Location"),
			ref("source", "source.reference", "Practitioner", "PractitionerRole", "Patient", "Device"),
			ref("item", "entry[*].item.reference"),
		},
	},
	"Task": {
		Params: []ParamDef{
			p("status", TypeToken, "status"),
			p("code", TypeToken, "code"),
			p("intent", TypeToken, "intent"),
			p("authored-on", TypeDate, "authoredOn"),
			p("identifier", TypeToken, "identifier[*]"),
			ref("patient", "for.reference", "Patient"),
			ref("subject", "for.reference"),
			ref("focus", "focus.reference"),
			ref("owner", "owner.reference", "Practitioner", "PractitionerRole", "Organization", "CareTeam", "Patient", "RelatedPerson", "Device", "HealthcareService"),
			ref("requester", "requester.reference", "Practitioner", "PractitionerRole", "Organization", "Patient", "RelatedPerson", "Device"),
		},
	},
	"EpisodeOfCare": {
		Params: []ParamDef{
			p("status", TypeToken, "status"),
			p("type", TypeToken, "type[*]"),
			p("date", TypeDate, "period.start"),
			ref("patient", "patient.reference", "Patient"),
			ref("organization", "managingOrganization.reference", "Organization"),
			ref("care-manager", "careManager.reference", "Practitioner", "PractitionerRole"),
		},
	},
	"FamilyMemberHistory": {
		Params: []ParamDef{
			p("status", TypeToken, "status"),
			p("date", TypeDate, "date"),
			p("relationship", TypeToken, "relationship"),
			ref("patient", "patient.reference", "Patient"),
		},
	},
	"DetectedIssue": {
		Params: []ParamDef{
			p("status", TypeToken, "status"),
			p("code", TypeToken, "code"),
			p("identified", TypeDate, "identifiedDateTime"),
			ref("patient", "patient.reference", "Patient"),
			ref("author", "author.reference", "Practitioner", "PractitionerRole", "Device"),
		},
	},
	"Basic": {
		Params: []ParamDef{
			p("code", TypeToken, "code"),
			p("created", TypeDate, "created"),
			p("identifier", TypeToken, "identifier[*]"),
			ref("patient", "subject.reference", "Patient"),
			ref("subject", "subject.reference"),
			ref("author", "author.reference", "Practitioner", "PractitionerRole", "Patient", "RelatedPerson", "Organization"),
		},
	},
}
