package log

import "log/slog"

func JobID[T ~string](id T) slog.Attr {
	return slog.String("job_id", string(id))
}

func WorkflowID[T ~string](id T) slog.Attr {
	return slog.String("workflow_id", string(id))
}

func ArtifactID[T ~string](id T) slog.Attr {
	return slog.String("artifact_id", string(id))
}

func StepType[T ~string](t T) slog.Attr {
	return slog.String("step_type", string(t))
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
