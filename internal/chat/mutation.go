// mutation.go — 归一化器输出的封闭变体集合 (tagged union)。
package chat

// MutationOp discriminates the closed set of canonical mutations a provider
// normalizer may emit. Normalizers are pure; the engine applies mutations.
type MutationOp string

const (
	// OpCreate appends a new canonical message.
	OpCreate MutationOp = "create"
	// OpAppendText appends a text fragment to the open streaming message
	// (creating one when none is open).
	OpAppendText MutationOp = "append_text"
	// OpAppendReasoning appends to the streaming message's reasoning channel.
	OpAppendReasoning MutationOp = "append_reasoning"
	// OpCloseStream force-flushes buffered deltas and clears IsStreaming.
	OpCloseStream MutationOp = "close_stream"
	// OpAttachResult links a tool result to its invocation by correlation key.
	OpAttachResult MutationOp = "attach_result"
	// OpSetPlan replaces the trailing plan card (creating one when absent).
	OpSetPlan MutationOp = "set_plan"
	// OpStatus updates the transient working indicator, no transcript change.
	OpStatus MutationOp = "status"
	// OpHydrate replaces the whole transcript with converted historical
	// records (session replay from the durable session store).
	OpHydrate MutationOp = "hydrate"
)

// Mutation is one canonical transcript mutation.
type Mutation struct {
	Op      MutationOp
	Message *Message // OpCreate / OpSetPlan

	Text string // OpAppendText / OpAppendReasoning / OpStatus

	// OpAttachResult fields.
	ToolID     string
	ToolName   string
	Result     string
	ToolStatus ToolStatus

	// StopReason carried by OpCloseStream ("done" payloads).
	StopReason string

	// Messages carried by OpHydrate.
	Messages []Message
}

// CreateMessage 构造 OpCreate 变体。
func CreateMessage(msg Message) Mutation {
	local := msg
	return Mutation{Op: OpCreate, Message: &local}
}

// AppendText 构造 OpAppendText 变体。
func AppendText(text string) Mutation {
	return Mutation{Op: OpAppendText, Text: text}
}

// AppendReasoning 构造 OpAppendReasoning 变体。
func AppendReasoning(text string) Mutation {
	return Mutation{Op: OpAppendReasoning, Text: text}
}

// CloseStream 构造 OpCloseStream 变体。
func CloseStream(stopReason string) Mutation {
	return Mutation{Op: OpCloseStream, StopReason: stopReason}
}

// Hydrate 构造 OpHydrate 变体。
func Hydrate(msgs []Message) Mutation {
	return Mutation{Op: OpHydrate, Messages: msgs}
}

// AttachResult 构造 OpAttachResult 变体。
func AttachResult(toolID, toolName, result string, status ToolStatus) Mutation {
	return Mutation{Op: OpAttachResult, ToolID: toolID, ToolName: toolName, Result: result, ToolStatus: status}
}
