package log

import "log/slog"

func RunID(id string) slog.Attr {
	return slog.String("run_id", id)
}

func FlowID[T ~string](id T) slog.Attr {
	return slog.String("flow_id", string(id))
}

func StepID[T ~string](id T) slog.Attr {
	return slog.String("step_id", string(id))
}

func EndpointKey[T ~string](key T) slog.Attr {
	return slog.String("endpoint_key", string(key))
}

func Alias(alias string) slog.Attr {
	return slog.String("alias", alias)
}

func Status[T ~string](status T) slog.Attr {
	return slog.String("status", string(status))
}

func Error(err error) slog.Attr {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return slog.String("error", msg)
}

func ErrorString(msg string) slog.Attr {
	return slog.String("error", msg)
}
