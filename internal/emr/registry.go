package emr

// Relationship types linking a Patient node to its section nodes.
// The set is closed: unknown sections route to RelOther rather than
// minting arbitrary relationship types at ingestion time.
const (
	RelGeneralInformation = "HAS_GENERAL_INFORMATION"
	RelMenstrualHistory   = "HAS_MENSTRUAL_HISTORY"
	RelMedicalHistory     = "HAS_MEDICAL_HISTORY"
	RelObstetricsHistory  = "HAS_OBSTETRICS_HISTORY"
	RelPastMedication     = "HAS_PAST_MEDICATION"
	RelPastTesting        = "HAS_PAST_TESTING"
	RelSexualHistory      = "HAS_SEXUAL_HISTORY"
	RelOther              = "HAS_OTHER"
)

// Relationship types inside a patient subgraph.
const (
	RelInformationOf = "HAS_INFORMATION_OF"
	RelValue         = "HAS_VALUE"
	RelIngestionMeta = "HAS_INGESTION_META"
)

// Node labels used in the graph store.
const (
	LabelPatient       = "Patient"
	LabelSection       = "SectionTable"
	LabelSchema        = "Schema"
	LabelValue         = "Value"
	LabelIngestionMeta = "IngestionMeta"
)

// FieldDef describes one scalar field of a section.
type FieldDef struct {
	// Name is the canonical field name stored on the Schema node.
	Name string
	// Keys are the raw record keys that may carry the value, in priority
	// order (the source format has several historical spellings).
	Keys []string
	// Type is the value type the raw value is coerced to.
	Type ValueType
	// Unit is an optional unit annotation stored on the Value node.
	Unit string
}

// AttrDef describes one attribute of a dict-valued entry, promoted onto the
// Value node as a property.
type AttrDef struct {
	Prop string
	Keys []string
	Type ValueType
}

// MapFieldDef describes a field whose raw value is a map of entry id to
// attribute object (past diseases, medications, tests). Each entry becomes
// one dict-typed Value node keyed by the entry id.
type MapFieldDef struct {
	Name  string
	Keys  []string
	Attrs []AttrDef
}

// SectionDef describes one known document section: its canonical name, the
// raw record key it lives under, the patient relationship type, and its
// field layout.
type SectionDef struct {
	Name         string
	RawKey       string
	Relationship string
	Scalars      []FieldDef
	Lists        []FieldDef
	Maps         []MapFieldDef
}

// Registry maps raw record keys and canonical section names to their
// definitions. It is a closed registry; LookupSection falls back to nil for
// unknown sections, which the parser routes to RelOther.
type Registry struct {
	byRawKey  map[string]*SectionDef
	bySection map[string]*SectionDef
}

// NewRegistry builds a registry from section definitions.
func NewRegistry(defs []SectionDef) *Registry {
	r := &Registry{
		byRawKey:  make(map[string]*SectionDef, len(defs)),
		bySection: make(map[string]*SectionDef, len(defs)),
	}
	for i := range defs {
		def := &defs[i]
		r.byRawKey[def.RawKey] = def
		r.bySection[def.Name] = def
	}
	return r
}

// LookupRawKey returns the section definition for a raw record key.
func (r *Registry) LookupRawKey(key string) (*SectionDef, bool) {
	def, ok := r.byRawKey[key]
	return def, ok
}

// RelationshipFor returns the patient relationship type for a canonical
// section name, or RelOther if the section is not registered.
func (r *Registry) RelationshipFor(section string) string {
	if def, ok := r.bySection[section]; ok {
		return def.Relationship
	}
	return RelOther
}

// SectionRelationships returns every known patient→section relationship type,
// including RelOther.
func (r *Registry) SectionRelationships() []string {
	rels := make([]string, 0, len(r.bySection)+1)
	for _, def := range r.bySection {
		rels = append(rels, def.Relationship)
	}
	return append(rels, RelOther)
}

// DefaultRegistry returns the registry for the clinical record format this
// engine ingests. Field layouts mirror the source document schema.
func DefaultRegistry() *Registry {
	return NewRegistry([]SectionDef{
		{
			Name:         "GeneralInformation",
			RawKey:       "General_Information",
			Relationship: RelGeneralInformation,
			Scalars: []FieldDef{
				{Name: "Name", Keys: []string{"name"}, Type: TypeString},
				{Name: "Title", Keys: []string{"title"}, Type: TypeString},
			},
		},
		{
			Name:         "MenstrualHistory",
			RawKey:       "Menstrual_History",
			Relationship: RelMenstrualHistory,
			Scalars: []FieldDef{
				{Name: "AgeOfMenarche", Keys: []string{"age of menarche"}, Type: TypeInt, Unit: "y"},
				{Name: "LastMenstruationPeriod", Keys: []string{"last menstruation period"}, Type: TypeDate},
				{Name: "Regularity", Keys: []string{"regularity"}, Type: TypeString},
				{Name: "Flow", Keys: []string{"flow"}, Type: TypeString},
				{Name: "Dysmenorrhea", Keys: []string{"dys"}, Type: TypeString},
				{Name: "IntermenstrualBleeding", Keys: []string{"intermenstrual bleeding"}, Type: TypeString},
				{Name: "Consanguinity", Keys: []string{"consanguinity"}, Type: TypeBool},
				{Name: "BowelChanges", Keys: []string{"bowel changes"}, Type: TypeString},
				{Name: "MenstruationCycleDays", Keys: []string{"menstruation cycle days"}, Type: TypeInt, Unit: "d"},
				{Name: "MenstruationLength", Keys: []string{"menstruation length"}, Type: TypeInt, Unit: "d"},
				{Name: "Amenorrhea", Keys: []string{"amenorrhea"}, Type: TypeString},
				{Name: "AmenorrheaType", Keys: []string{"amenorrhea type"}, Type: TypeString},
				{Name: "MedicineUsed", Keys: []string{"medicine used"}, Type: TypeBool},
				{Name: "Comments", Keys: []string{"comments"}, Type: TypeString},
			},
			Lists: []FieldDef{
				{Name: "Medicine", Keys: []string{"medicine"}, Type: TypeString},
			},
		},
		{
			Name:         "MedicalHistory",
			RawKey:       "Medical_History",
			Relationship: RelMedicalHistory,
			Maps: []MapFieldDef{
				{
					Name: "PastDisease",
					Keys: []string{"past disease"},
					Attrs: []AttrDef{
						{Prop: "category", Keys: []string{"disease category"}, Type: TypeString},
						{Prop: "type", Keys: []string{"disease type"}, Type: TypeString},
						{Prop: "since_year", Keys: []string{"disease since when"}, Type: TypeInt},
						{Prop: "on_medication", Keys: []string{"disease on medication", "on_medication", "on_medicatoin"}, Type: TypeBool},
						{Prop: "comments", Keys: []string{"comments"}, Type: TypeString},
					},
				},
			},
		},
		{
			Name:         "ObstetricsHistory",
			RawKey:       "Obstetrics_History",
			Relationship: RelObstetricsHistory,
			Scalars: []FieldDef{
				{Name: "Gravida", Keys: []string{"gravida"}, Type: TypeInt, Unit: "d"},
				{Name: "GestationWeeks", Keys: []string{"gestation weeks"}, Type: TypeInt, Unit: "w"},
				{Name: "Outcome", Keys: []string{"outcome"}, Type: TypeString},
				{Name: "SexAssignedBirth", Keys: []string{"sex_assigned_birth"}, Type: TypeString},
				{Name: "DeliveryMethod", Keys: []string{"delivery_method"}, Type: TypeString},
				{Name: "TypeOfConceived", Keys: []string{"type of conceived"}, Type: TypeString},
				{Name: "Complication", Keys: []string{"complication"}, Type: TypeBool},
				{Name: "CongenitalAnomalies", Keys: []string{"congenial anomalies"}, Type: TypeBool},
				{Name: "HistoryRecurrentAbortion", Keys: []string{"history recurrent abortion"}, Type: TypeBool},
				{Name: "KaryotypingValuation", Keys: []string{"karyotyping valuation"}, Type: TypeBool},
				{Name: "Indication", Keys: []string{"indication"}, Type: TypeString},
				{Name: "SampleType", Keys: []string{"sample type"}, Type: TypeString},
				{Name: "KaryotypingResult", Keys: []string{"karyotyping result"}, Type: TypeString},
				{Name: "Comments", Keys: []string{"comments"}, Type: TypeString},
			},
		},
		{
			Name:         "PastMedication",
			RawKey:       "Past_Medication",
			Relationship: RelPastMedication,
			Maps: []MapFieldDef{
				{
					Name: "PastMedication",
					Keys: []string{"past medication"},
					Attrs: []AttrDef{
						{Prop: "generic_name", Keys: []string{"generic name"}, Type: TypeString},
						{Prop: "brand_name", Keys: []string{"brand name"}, Type: TypeString},
						{Prop: "dose", Keys: []string{"does", "dose"}, Type: TypeString},
						{Prop: "frequency", Keys: []string{"frequency"}, Type: TypeString},
						{Prop: "route", Keys: []string{"route"}, Type: TypeString},
						{Prop: "start_date", Keys: []string{"start date"}, Type: TypeDate},
						{Prop: "end_date", Keys: []string{"end date"}, Type: TypeDate},
					},
				},
			},
		},
		{
			Name:         "PastTesting",
			RawKey:       "Past_Testing",
			Relationship: RelPastTesting,
			Maps: []MapFieldDef{
				{
					Name: "PastTesting",
					Keys: []string{"past testing"},
					Attrs: []AttrDef{
						{Prop: "test_name", Keys: []string{"test_name"}, Type: TypeString},
						{Prop: "result", Keys: []string{"result"}, Type: TypeString},
						{Prop: "date", Keys: []string{"date"}, Type: TypeDate},
						{Prop: "remark", Keys: []string{"remark/indication"}, Type: TypeString},
						{Prop: "patient_name", Keys: []string{"patient_name"}, Type: TypeString},
					},
				},
			},
		},
		{
			Name:         "SexualHistory",
			RawKey:       "Sexual_History",
			Relationship: RelSexualHistory,
			Scalars: []FieldDef{
				{Name: "LastSexRelationDuration", Keys: []string{"last sexual relationship duration"}, Type: TypeString},
				{Name: "LastSexRelationSince", Keys: []string{"last sexual relationship since"}, Type: TypeString},
				{Name: "Married", Keys: []string{"married"}, Type: TypeString},
				{Name: "Contraception", Keys: []string{"contraception"}, Type: TypeBool},
				{Name: "ContraceptionMethod", Keys: []string{"contraception_method"}, Type: TypeString},
				{Name: "FemaleInfertility", Keys: []string{"female infertility"}, Type: TypeBool},
				{Name: "IntercourseFrequency", Keys: []string{"intercourse frequency"}, Type: TypeString},
				{Name: "SexualDysfunction", Keys: []string{"sexual dysfunction"}, Type: TypeBool},
				{Name: "Dyspareunia", Keys: []string{"dyspareunia"}, Type: TypeBool},
				{Name: "LubricantUse", Keys: []string{"lubricant use"}, Type: TypeBool},
				{Name: "OvulationKits", Keys: []string{"ovulation kits"}, Type: TypeBool},
				{Name: "SexTransmitDiseaseSince", Keys: []string{"sexually transmitted disease since", "sexual transmitted disease since"}, Type: TypeString},
				{Name: "Comments", Keys: []string{"comments"}, Type: TypeString},
			},
			Lists: []FieldDef{
				{Name: "STD", Keys: []string{"sexually transmitted disease (STD)"}, Type: TypeString},
			},
		},
	})
}
