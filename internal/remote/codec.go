package remote

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/yooozz3/target-assign-rl/internal/alloc"
	"github.com/yooozz3/target-assign-rl/internal/planner"
)

// #region reasons

// decisionReasons are the decision sentinels carried as string details on
// FailedPrecondition statuses.
var decisionReasons = []struct {
	err    error
	reason string
}{
	{alloc.ErrNoEligibleAction, "NO_ELIGIBLE_ACTION"},
	{planner.ErrPlanExhausted, "PLAN_EXHAUSTED"},
}

func decisionStatus(err error) error {
	st := status.New(codes.FailedPrecondition, err.Error())
	for _, r := range decisionReasons {
		if !errors.Is(err, r.err) {
			continue
		}
		if detailed, derr := st.WithDetails(structpb.NewStringValue(r.reason)); derr == nil {
			st = detailed
		}
		break
	}
	return st.Err()
}

// decisionSentinel returns the sentinel named in err's status details, or nil.
func decisionSentinel(err error) error {
	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.FailedPrecondition {
		return nil
	}
	for _, d := range st.Details() {
		v, ok := d.(*structpb.Value)
		if !ok {
			continue
		}
		for _, r := range decisionReasons {
			if v.GetStringValue() == r.reason {
				return r.err
			}
		}
	}
	return nil
}

// #endregion reasons

// #region request
func encodeRequest(state []float64, mask []bool) (*structpb.Struct, error) {
	fields := map[string]interface{}{}
	stateVals := make([]interface{}, len(state))
	for i, v := range state {
		stateVals[i] = v
	}
	fields["state"] = stateVals
	if mask != nil {
		maskVals := make([]interface{}, len(mask))
		for i, m := range mask {
			maskVals[i] = m
		}
		fields["action_mask"] = maskVals
	}
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return req, nil
}

func decodeRequest(req *structpb.Struct) ([]float64, []bool, error) {
	stateField, ok := req.GetFields()["state"]
	if !ok {
		return nil, nil, fmt.Errorf("request missing state")
	}
	list := stateField.GetListValue()
	if list == nil {
		return nil, nil, fmt.Errorf("state is not a list")
	}
	state := make([]float64, len(list.GetValues()))
	for i, v := range list.GetValues() {
		n, ok := v.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return nil, nil, fmt.Errorf("state[%d] is not a number", i)
		}
		state[i] = n.NumberValue
	}

	var mask []bool
	if maskField, ok := req.GetFields()["action_mask"]; ok {
		mlist := maskField.GetListValue()
		if mlist == nil {
			return nil, nil, fmt.Errorf("action_mask is not a list")
		}
		mask = make([]bool, len(mlist.GetValues()))
		for i, v := range mlist.GetValues() {
			b, ok := v.GetKind().(*structpb.Value_BoolValue)
			if !ok {
				return nil, nil, fmt.Errorf("action_mask[%d] is not a bool", i)
			}
			mask[i] = b.BoolValue
		}
	}
	return state, mask, nil
}

// #endregion request

// #region response
func encodeResponse(action int) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"action": structpb.NewNumberValue(float64(action)),
	}}
}

func decodeResponse(resp *structpb.Struct) (int, error) {
	field, ok := resp.GetFields()["action"]
	if !ok {
		return 0, fmt.Errorf("response missing action")
	}
	n, ok := field.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, fmt.Errorf("action is not a number")
	}
	v := n.NumberValue
	if v < 0 || v != math.Trunc(v) || v > math.MaxInt32 {
		return 0, fmt.Errorf("action %v is not a valid index", v)
	}
	return int(v), nil
}

// #endregion response
