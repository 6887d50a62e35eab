package notification

// Skeleton is the provider-neutral shape of a Message. Each dispatcher turns it into
// its own wire format.
type Skeleton struct {
	// Alert is the body string, or a {"title","body"} map when the message has a title.
	Alert    any
	Title    string
	Body     string
	Sound    string
	Badge    int
	Priority Priority
	Custom   map[string]any
}

// Build converts a Message into a Skeleton.
func Build(m Message) Skeleton {
	var alert any = m.Body()
	if m.HasTitle() {
		alert = map[string]any{
			"title": m.Title(),
			"body":  m.Body(),
		}
	}
	return Skeleton{
		Alert:    alert,
		Title:    m.Title(),
		Body:     m.Body(),
		Sound:    m.Sound(),
		Badge:    m.Badge(),
		Priority: m.Priority(),
		Custom:   m.Payload(),
	}
}

// MergePayload deep-merges src into dst. Nested maps are merged key by key, any other
// value in src replaces the one in dst.
func MergePayload(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for key, value := range src {
		if nestedSrc, ok := value.(map[string]any); ok {
			if nestedDst, ok := dst[key].(map[string]any); ok {
				dst[key] = MergePayload(nestedDst, nestedSrc)
				continue
			}
		}
		dst[key] = value
	}
	return dst
}
