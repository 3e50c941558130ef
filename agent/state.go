package agent

// State is the agent's position in the per-query execution cycle. Exactly
// one state is active at a time for an in-flight query.
type State int

const (
	// StatePlanning requests a decision from the model.
	StatePlanning State = iota
	// StateExecutingPlan runs plan steps without consulting the model.
	StateExecutingPlan
	// StateDirectExecution runs an allow-listed tool without a plan,
	// permitted on the first turn only.
	StateDirectExecution
	// StateErrorRecovery synthesizes a recovery prompt after a tool
	// failure and clears the plan.
	StateErrorRecovery
	// StateCompletion is terminal for the query.
	StateCompletion
)

func (s State) String() string {
	switch s {
	case StatePlanning:
		return "planning"
	case StateExecutingPlan:
		return "executing_plan"
	case StateDirectExecution:
		return "direct_execution"
	case StateErrorRecovery:
		return "error_recovery"
	case StateCompletion:
		return "completion"
	default:
		return "unknown"
	}
}

// Status classifies how a query ended.
type Status int

const (
	// StatusCompleted means the model produced a final answer.
	StatusCompleted Status = iota
	// StatusIncomplete means the step limit was reached first. This is a
	// result, not an error.
	StatusIncomplete
	// StatusLLMError means the inference backend was unreachable.
	StatusLLMError
)

func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusIncomplete:
		return "incomplete"
	case StatusLLMError:
		return "llm_error"
	default:
		return "unknown"
	}
}
