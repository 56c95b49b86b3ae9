package kerneltest

import "cellrun/internal/protocol"

// Status is an iopub status notice.
func Status(state string) Reply {
	return Reply{Channel: protocol.ChannelIOPub, MsgType: protocol.TypeStatus,
		Content: protocol.Status{ExecutionState: state}}
}

// Stream is an iopub stdout chunk.
func Stream(text string) Reply {
	return Reply{Channel: protocol.ChannelIOPub, MsgType: protocol.TypeStream,
		Content: protocol.Stream{Name: "stdout", Text: text}}
}

// Result is an iopub execute_result with a text/plain value.
func Result(text string) Reply {
	return Reply{Channel: protocol.ChannelIOPub, MsgType: protocol.TypeExecuteResult,
		Content: protocol.ExecuteResult{ExecutionCount: 1, Data: map[string]any{"text/plain": text}}}
}

// Error is an iopub error.
func Error(ename, evalue string) Reply {
	return Reply{Channel: protocol.ChannelIOPub, MsgType: protocol.TypeError,
		Content: protocol.Error{EName: ename, EValue: evalue, Traceback: []string{ename + ": " + evalue}}}
}

// ExecuteReply is the shell reply; status is "ok" or "error".
func ExecuteReply(status string) Reply {
	return Reply{Channel: protocol.ChannelShell, MsgType: protocol.TypeExecuteReply,
		Content: protocol.ExecuteReply{Status: status, ExecutionCount: 1}}
}

// Execution wraps events the way a kernel does: busy, an execute_input echo,
// the events, the shell reply, then idle.
func Execution(events ...Reply) Script {
	return func(code string) []Reply {
		status := "ok"
		for _, e := range events {
			if e.MsgType == protocol.TypeError {
				status = "error"
			}
		}

		out := []Reply{
			Status("busy"),
			{Channel: protocol.ChannelIOPub, MsgType: protocol.TypeExecuteInput,
				Content: map[string]any{"code": code, "execution_count": 1}},
		}
		out = append(out, events...)
		out = append(out, ExecuteReply(status), Status("idle"))
		return out
	}
}

// Sequence sends exactly the given replies.
func Sequence(replies ...Reply) Script {
	return func(string) []Reply { return replies }
}

// Hangup drops the connection at this point in the sequence.
func Hangup() Reply {
	return Reply{Hangup: true}
}
