package health

// ServiceKind is the closed enumeration of externally dependent capabilities
// tracked by the controller.
type ServiceKind int

const (
	STT ServiceKind = iota
	Translation
	TTS
	LLM
	PriceOracle
	VoiceBiometric
	Database
	Cache
)

// AllServiceKinds lists every recognised kind in declaration order. The
// controller bootstraps one state entry per kind.
var AllServiceKinds = []ServiceKind{
	STT, Translation, TTS, LLM, PriceOracle, VoiceBiometric, Database, Cache,
}

// String returns the lower-snake name of the kind.
func (k ServiceKind) String() string {
	switch k {
	case STT:
		return "stt"
	case Translation:
		return "translation"
	case TTS:
		return "tts"
	case LLM:
		return "llm"
	case PriceOracle:
		return "price_oracle"
	case VoiceBiometric:
		return "voice_biometric"
	case Database:
		return "database"
	case Cache:
		return "cache"
	default:
		return "unknown"
	}
}

// Status is the availability state of one service kind.
type Status int

const (
	// StatusHealthy means the last recorded operation succeeded.
	StatusHealthy Status = iota

	// StatusDegraded means recent failures were recorded but the failure
	// threshold has not been reached.
	StatusDegraded

	// StatusUnavailable means consecutive failures reached the threshold; the
	// primary is bypassed in favour of a fallback when one is registered.
	StatusUnavailable
)

// String returns the human-readable name of the status.
func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// SystemHealth is the aggregate view over all service kinds.
type SystemHealth int

const (
	// SystemHealthy means every kind is healthy.
	SystemHealthy SystemHealth = iota

	// SystemDegraded means at least one kind is degraded or unavailable, but
	// no critical kind is unavailable.
	SystemDegraded

	// SystemCritical means a critical kind is unavailable, regardless of the
	// state of every other kind.
	SystemCritical
)

// String returns the human-readable name of the aggregate.
func (s SystemHealth) String() string {
	switch s {
	case SystemHealthy:
		return "healthy"
	case SystemDegraded:
		return "degraded"
	case SystemCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Feature names a user-visible capability derived from service availability.
type Feature string

const (
	FeatureVoiceInput            Feature = "voice_input"
	FeatureVoiceOutput           Feature = "voice_output"
	FeatureTranslation           Feature = "translation"
	FeaturePriceCheck            Feature = "price_check"
	FeatureNegotiationAssistance Feature = "negotiation_assistance"
	FeatureVoiceAuthentication   Feature = "voice_authentication"
	FeatureDataPersistence       Feature = "data_persistence"
	FeatureCaching               Feature = "caching"
)

// featureServices maps each derived feature to the service kind it depends on.
var featureServices = map[Feature]ServiceKind{
	FeatureVoiceInput:            STT,
	FeatureVoiceOutput:           TTS,
	FeatureTranslation:           Translation,
	FeaturePriceCheck:            PriceOracle,
	FeatureNegotiationAssistance: LLM,
	FeatureVoiceAuthentication:   VoiceBiometric,
	FeatureDataPersistence:       Database,
	FeatureCaching:               Cache,
}
