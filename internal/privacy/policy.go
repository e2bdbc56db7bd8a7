package privacy

// Category identifies a class of personal data subject to sharing policy.
type Category string

const (
	CategoryHealth     Category = "health"
	CategoryLocation   Category = "location"
	CategoryActivities Category = "activities"
	CategoryDiary      Category = "diary"
	CategoryVoiceNotes Category = "voice_notes"
	CategoryPhotos     Category = "photos"
)

// Categories lists every policy category in a stable order.
func Categories() []Category {
	return []Category{
		CategoryHealth,
		CategoryLocation,
		CategoryActivities,
		CategoryDiary,
		CategoryVoiceNotes,
		CategoryPhotos,
	}
}

// CategoryForRecordType maps a stored record type to its policy category.
// Returns false for unknown types; callers must treat unknown as not shareable.
func CategoryForRecordType(recordType string) (Category, bool) {
	switch recordType {
	case "health":
		return CategoryHealth, true
	case "location":
		return CategoryLocation, true
	case "shared_activity":
		return CategoryActivities, true
	case "memory":
		return CategoryDiary, true
	case "voice":
		return CategoryVoiceNotes, true
	case "photo":
		return CategoryPhotos, true
	default:
		return "", false
	}
}

// RecordTypesForCategory returns the record types governed by a category.
func RecordTypesForCategory(category Category) []string {
	switch category {
	case CategoryHealth:
		return []string{"health"}
	case CategoryLocation:
		return []string{"location"}
	case CategoryActivities:
		return []string{"shared_activity"}
	case CategoryDiary:
		return []string{"memory"}
	case CategoryVoiceNotes:
		return []string{"voice"}
	case CategoryPhotos:
		return []string{"photo"}
	default:
		return nil
	}
}

// CircleSharingPolicy describes what a circle is willing to expose,
// per data category, uniformly for all its members.
type CircleSharingPolicy struct {
	Health     bool `json:"health" firestore:"health"`
	Location   bool `json:"location" firestore:"location"`
	Activities bool `json:"activities" firestore:"activities"`
	Diary      bool `json:"diary" firestore:"diary"`
	VoiceNotes bool `json:"voiceNotes" firestore:"voiceNotes"`
	Photos     bool `json:"photos" firestore:"photos"`
}

// RelationshipPrivacySettings describes what a data owner is willing to
// expose to one specific counterpart. Same six categories as the circle
// policy, scoped to a single relationship.
type RelationshipPrivacySettings struct {
	Health     bool `json:"health" firestore:"health"`
	Location   bool `json:"location" firestore:"location"`
	Activities bool `json:"activities" firestore:"activities"`
	Diary      bool `json:"diary" firestore:"diary"`
	VoiceNotes bool `json:"voiceNotes" firestore:"voiceNotes"`
	Photos     bool `json:"photos" firestore:"photos"`
}

// EffectiveSharingPolicy is the derived intersection of a circle policy and
// one relationship's settings. It is never stored.
type EffectiveSharingPolicy struct {
	Health     bool
	Location   bool
	Activities bool
	Diary      bool
	VoiceNotes bool
	Photos     bool
}

// Allows reports whether the effective policy permits a category.
// Unknown categories are not permitted.
func (p EffectiveSharingPolicy) Allows(category Category) bool {
	switch category {
	case CategoryHealth:
		return p.Health
	case CategoryLocation:
		return p.Location
	case CategoryActivities:
		return p.Activities
	case CategoryDiary:
		return p.Diary
	case CategoryVoiceNotes:
		return p.VoiceNotes
	case CategoryPhotos:
		return p.Photos
	default:
		return false
	}
}

// AllowedCategories returns the categories the effective policy permits,
// in the stable Categories() order.
func (p EffectiveSharingPolicy) AllowedCategories() []Category {
	var allowed []Category
	for _, c := range Categories() {
		if p.Allows(c) {
			allowed = append(allowed, c)
		}
	}
	return allowed
}

func (p CircleSharingPolicy) allows(category Category) bool {
	switch category {
	case CategoryHealth:
		return p.Health
	case CategoryLocation:
		return p.Location
	case CategoryActivities:
		return p.Activities
	case CategoryDiary:
		return p.Diary
	case CategoryVoiceNotes:
		return p.VoiceNotes
	case CategoryPhotos:
		return p.Photos
	default:
		return false
	}
}

func (s RelationshipPrivacySettings) allows(category Category) bool {
	switch category {
	case CategoryHealth:
		return s.Health
	case CategoryLocation:
		return s.Location
	case CategoryActivities:
		return s.Activities
	case CategoryDiary:
		return s.Diary
	case CategoryVoiceNotes:
		return s.VoiceNotes
	case CategoryPhotos:
		return s.Photos
	default:
		return false
	}
}

// EffectiveSharing computes the per-category intersection of a circle policy
// and one relationship's settings.
//
// Invariant: for every category C, the result permits C only if both the
// circle and the relationship permit C. No code path may widen either source.
func EffectiveSharing(circle CircleSharingPolicy, relationship RelationshipPrivacySettings) EffectiveSharingPolicy {
	return EffectiveSharingPolicy{
		Health:     circle.Health && relationship.Health,
		Location:   circle.Location && relationship.Location,
		Activities: circle.Activities && relationship.Activities,
		Diary:      circle.Diary && relationship.Diary,
		VoiceNotes: circle.VoiceNotes && relationship.VoiceNotes,
		Photos:     circle.Photos && relationship.Photos,
	}
}

// RestrictedCategories returns the categories the circle would allow but the
// relationship setting forbids. Used only to explain why something is hidden,
// never to grant access.
func RestrictedCategories(circle CircleSharingPolicy, relationship RelationshipPrivacySettings) []Category {
	var restricted []Category
	for _, c := range Categories() {
		if circle.allows(c) && !relationship.allows(c) {
			restricted = append(restricted, c)
		}
	}
	return restricted
}

// DefaultRelationshipSettings returns the settings assigned when a
// relationship is first created: maximally open, the owner narrows later.
func DefaultRelationshipSettings() RelationshipPrivacySettings {
	return RelationshipPrivacySettings{
		Health:     true,
		Location:   true,
		Activities: true,
		Diary:      true,
		VoiceNotes: true,
		Photos:     true,
	}
}
