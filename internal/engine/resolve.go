package engine

import (
	"fmt"

	"go.uber.org/zap"
)

// Binding is the (source, action, destination) triple an engine is chosen for
type Binding struct {
	Source Account
	Action Action
	Target Target
}

func (b Binding) String() string {
	target := "<nil>"
	if b.Target != nil {
		target = b.Target.Kind().String()
	}
	source := "<nil>"
	if b.Source != nil {
		source = b.Source.Kind().String()
	}
	return fmt.Sprintf("%s/%s/%s", source, b.Action, target)
}

// Resolve picks the engine for a binding. Combinations without an engine
// return ErrUnsupportedBinding. A supported combination whose inputs do not
// hold together (currency mismatch, action the account cannot perform)
// returns ErrInvalidBinding.
func Resolve(b Binding, deps Deps) (Engine, error) {
	if b.Source == nil || b.Target == nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidBinding, b)
	}

	var e Engine
	switch b.Action {
	case ActionSend:
		switch b.Source.Kind() {
		case AccountNonCustodial:
			if b.Target.Kind() == TargetAddress {
				e = NewOnChainSendEngine(b, deps)
			}
		case AccountTrading:
			if b.Target.Kind() == TargetAddress {
				e = NewTradingSendEngine(b, deps)
			}
		}
	case ActionInterestTransfer:
		if b.Source.Kind() == AccountTrading && b.Target.Kind() == TargetInterestAccount {
			e = NewInterestTransferEngine(b, deps)
		}
	case ActionInterestWithdraw:
		if b.Source.Kind() == AccountInterest && b.Target.Kind() == TargetTradingAccount {
			e = NewInterestTransferEngine(b, deps)
		}
	case ActionWithdraw:
		if b.Source.Kind() == AccountFiat && b.Target.Kind() == TargetBank {
			e = NewBankWithdrawEngine(b, deps)
		}
	}
	if e == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedBinding, b)
	}

	if err := e.AssertInputsValid(); err != nil {
		// Panics under a development logger, logs under production.
		zap.L().DPanic("Engine inputs invalid", zap.String("engine", e.Name()), zap.Stringer("binding", b), zap.Error(err))
		return nil, err
	}
	return e, nil
}

// assertCommon checks what every engine requires of its binding.
func assertCommon(b Binding) error {
	if !b.Source.Can(b.Action) {
		return fmt.Errorf("%w: account %s cannot %s", ErrInvalidBinding, b.Source.ID(), b.Action)
	}
	if b.Source.Currency().Code != b.Target.Currency().Code {
		return fmt.Errorf("%w: source %s does not match target %s", ErrInvalidBinding, b.Source.Currency().Code, b.Target.Currency().Code)
	}
	return nil
}
