package model

// ResourceKind is a countable action type with its own limit and counting window.
type ResourceKind string

const (
	ResourceMessage          ResourceKind = "message"
	ResourceInputTokens      ResourceKind = "input_tokens"
	ResourceOutputTokens     ResourceKind = "output_tokens"
	ResourceImageAnalysis    ResourceKind = "image_analysis"
	ResourceVoiceMessage     ResourceKind = "voice_message"
	ResourceProactiveMessage ResourceKind = "proactive_message"
	ResourceAgent            ResourceKind = "agent"
	ResourceWorld            ResourceKind = "world"
	ResourcePost             ResourceKind = "post"
)

// Kinds lists every resource kind in a stable order.
var Kinds = []ResourceKind{
	ResourceMessage, ResourceInputTokens, ResourceOutputTokens,
	ResourceImageAnalysis, ResourceVoiceMessage, ResourceProactiveMessage,
	ResourceAgent, ResourceWorld, ResourcePost,
}

// String returns the string representation of the resource kind.
func (k ResourceKind) String() string {
	return string(k)
}

// IsValid checks whether the resource kind is a known value.
func (k ResourceKind) IsValid() bool {
	switch k {
	case ResourceMessage, ResourceInputTokens, ResourceOutputTokens,
		ResourceImageAnalysis, ResourceVoiceMessage, ResourceProactiveMessage,
		ResourceAgent, ResourceWorld, ResourcePost:
		return true
	}
	return false
}

// MessageLike reports whether usage of this kind is gated by the message
// classifier before it is recorded.
func (k ResourceKind) MessageLike() bool {
	switch k {
	case ResourceMessage, ResourceInputTokens, ResourceOutputTokens:
		return true
	}
	return false
}

// Window is a usage aggregation window.
type Window string

const (
	WindowDaily   Window = "daily"
	WindowWeekly  Window = "weekly"
	WindowMonthly Window = "monthly"
	// WindowAll counts every event ever recorded for the kind. Used for
	// held-resource ceilings (agents, worlds) rather than rate windows.
	WindowAll Window = "all"
)

// String returns the string representation of the window.
func (w Window) String() string {
	return string(w)
}

// IsValid checks whether the window is a known value.
func (w Window) IsValid() bool {
	switch w {
	case WindowDaily, WindowWeekly, WindowMonthly, WindowAll:
		return true
	}
	return false
}

// Unlimited is the reserved limit sentinel meaning "no ceiling".
const Unlimited = -1

// IsUnlimited reports whether a limit value is the unlimited sentinel.
func IsUnlimited(limit int64) bool {
	return limit == Unlimited
}

// Remaining returns how much quota is left, or Unlimited for unlimited limits.
// Never returns a negative remainder.
func Remaining(current, limit int64) int64 {
	if IsUnlimited(limit) {
		return Unlimited
	}
	if current >= limit {
		return 0
	}
	return limit - current
}
