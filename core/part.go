package core

// Part represents a polymorphic segment of message content. Concrete part
// types implement the unexported isPart marker enabling a closed set.
type Part interface{ isPart() }

// TextPart is a plain text content segment.
type TextPart struct {
	Text string
}

// isPart implements the Part interface for TextPart.
func (TextPart) isPart() {}

// DataPart is a structured data segment (e.g., JSON object map).
type DataPart struct {
	Data map[string]any
}

// isPart implements the Part interface for DataPart.
func (DataPart) isPart() {}

// FunctionCall describes a tool/function invocation request.
type FunctionCall struct {
	ID        string `json:"id,omitempty"`        // Optional stable id (can be supplied later)
	Name      string `json:"name"`                // Tool / function name
	Arguments string `json:"arguments,omitempty"` // Serialized argument payload (e.g. JSON)
}

// FunctionCallPart wraps a FunctionCall as a content part.
type FunctionCallPart struct {
	FunctionCall FunctionCall
}

// isPart implements the Part interface for FunctionCallPart.
func (FunctionCallPart) isPart() {}

// FunctionResponse describes the outcome of a function call.
type FunctionResponse struct {
	ID       string `json:"id,omitempty"`       // Matches originating FunctionCall ID
	Name     string `json:"name"`               // Function name
	Response any    `json:"response,omitempty"` // Successful result (any shape)
	Error    string `json:"error,omitempty"`    // Populated on failure
}

// FunctionResponsePart wraps a FunctionResponse as a content part.
type FunctionResponsePart struct {
	FunctionResponse FunctionResponse
}

// isPart implements the Part interface for FunctionResponsePart.
func (FunctionResponsePart) isPart() {}

// wirePart is the tagged JSON shape of a Part.
type wirePart struct {
	Type             string            `json:"type"`
	Text             string            `json:"text,omitempty"`
	Data             map[string]any    `json:"data,omitempty"`
	FunctionCall     *FunctionCall     `json:"function_call,omitempty"`
	FunctionResponse *FunctionResponse `json:"function_response,omitempty"`
}

func toWirePart(p Part) (wirePart, bool) {
	switch pt := p.(type) {
	case TextPart:
		return wirePart{Type: "text", Text: pt.Text}, true
	case DataPart:
		return wirePart{Type: "data", Data: pt.Data}, true
	case FunctionCallPart:
		fc := pt.FunctionCall
		return wirePart{Type: "function_call", FunctionCall: &fc}, true
	case FunctionResponsePart:
		fr := pt.FunctionResponse
		return wirePart{Type: "function_response", FunctionResponse: &fr}, true
	default:
		return wirePart{}, false
	}
}

func (w wirePart) part() (Part, bool) {
	switch w.Type {
	case "text":
		return TextPart{Text: w.Text}, true
	case "data":
		return DataPart{Data: w.Data}, true
	case "function_call":
		if w.FunctionCall == nil {
			return nil, false
		}
		return FunctionCallPart{FunctionCall: *w.FunctionCall}, true
	case "function_response":
		if w.FunctionResponse == nil {
			return nil, false
		}
		return FunctionResponsePart{FunctionResponse: *w.FunctionResponse}, true
	default:
		return nil, false
	}
}
