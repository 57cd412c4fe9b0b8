/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"prime-transaction-pipeline-go/internal/account"
	"prime-transaction-pipeline-go/internal/common"
	"prime-transaction-pipeline-go/internal/config"
	"prime-transaction-pipeline-go/internal/engine"
	"prime-transaction-pipeline-go/internal/flow"
	"prime-transaction-pipeline-go/internal/money"
	"prime-transaction-pipeline-go/internal/transaction"

	"go.uber.org/zap"
)

type sendRequest struct {
	accountId    string
	currency     money.Currency
	amount       money.Money
	destination  string
	network      string
	memo         string
	toInterest   bool
	fromInterest bool
	feeLevel     transaction.FeeLevel
	assumeYes    bool
	timeout      time.Duration
}

func parseAndValidateFlags() (*sendRequest, error) {
	accountFlag := flag.String("account", "", "Ledger account id of the sender (required)")
	assetFlag := flag.String("asset", "", "Asset symbol, e.g. BTC, ETH, USDC (required)")
	amountFlag := flag.String("amount", "", "Amount to send (required)")
	toFlag := flag.String("to", "", "Destination address for a custodial send")
	networkFlag := flag.String("network", "", "Destination network, e.g. ethereum-mainnet (optional)")
	memoFlag := flag.String("memo", "", "Destination memo or tag (optional)")
	toInterestFlag := flag.Bool("to-interest", false, "Move funds from the trading account to the interest account")
	fromInterestFlag := flag.Bool("from-interest", false, "Move funds from the interest account back to trading")
	feeFlag := flag.String("fee", "", "Fee level: regular, priority or none (default: engine default)")
	yesFlag := flag.Bool("yes", false, "Accept terms and confirm without prompting")
	timeoutFlag := flag.Duration("timeout", 2*time.Minute, "Give up if the transaction has not finished by then")
	flag.Parse()

	if *accountFlag == "" || *assetFlag == "" || *amountFlag == "" {
		return nil, fmt.Errorf("--account, --asset and --amount are required")
	}

	destinations := 0
	for _, set := range []bool{*toFlag != "", *toInterestFlag, *fromInterestFlag} {
		if set {
			destinations++
		}
	}
	if destinations != 1 {
		return nil, fmt.Errorf("exactly one of --to, --to-interest or --from-interest is required")
	}

	currency := money.LookupCurrency(*assetFlag)
	amount, err := money.Parse(*amountFlag, currency)
	if err != nil {
		return nil, fmt.Errorf("invalid amount format: %w", err)
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("amount must be greater than zero")
	}

	req := &sendRequest{
		accountId:    *accountFlag,
		currency:     currency,
		amount:       amount,
		destination:  *toFlag,
		network:      *networkFlag,
		memo:         *memoFlag,
		toInterest:   *toInterestFlag,
		fromInterest: *fromInterestFlag,
		feeLevel:     -1,
		assumeYes:    *yesFlag,
		timeout:      *timeoutFlag,
	}
	if *feeFlag != "" {
		if req.feeLevel, err = transaction.ParseFeeLevel(*feeFlag); err != nil {
			return nil, err
		}
	}
	return req, nil
}

func buildBinding(req *sendRequest, services *common.Services) (engine.Binding, error) {
	trading := account.NewTradingAccount(services.Ledger, req.accountId, req.currency)
	interest := account.NewInterestAccount(services.Ledger, req.accountId, req.currency)

	switch {
	case req.toInterest:
		return engine.Binding{Source: trading, Action: engine.ActionInterestTransfer, Target: engine.AccountTarget{Account: interest}}, nil
	case req.fromInterest:
		return engine.Binding{Source: interest, Action: engine.ActionInterestWithdraw, Target: engine.AccountTarget{Account: trading}}, nil
	}

	network := req.network
	if network == "" {
		network, _ = services.Quotes.Network(req.currency)
	}

	if services.Venue == nil {
		return engine.Binding{}, fmt.Errorf("custodial sends need Prime API credentials (PRIME_ACCESS_KEY, PRIME_PASSPHRASE, PRIME_SIGNING_KEY)")
	}
	return engine.Binding{
		Source: trading,
		Action: engine.ActionSend,
		Target: engine.AddressTarget{
			Address: req.destination,
			Asset:   req.currency,
			Network: network,
			Memo:    req.memo,
		},
	}, nil
}

// terminalPresenter walks the user through an external step on the terminal.
type terminalPresenter struct {
	in *bufio.Reader
}

func (p *terminalPresenter) Present(ctx context.Context, step engine.ExternalStep) (flow.Outcome, error) {
	fmt.Printf("\nAction required: %s\n", step)
	fmt.Print("Press Enter once done, type 'later' to go back, or 'cancel' to abort: ")

	answer, err := readLine(ctx, p.in)
	if err != nil {
		return flow.OutcomeCancelled, err
	}
	switch answer {
	case "":
		return flow.OutcomeCompleted, nil
	case "later":
		return flow.OutcomeAbandoned, nil
	default:
		return flow.OutcomeCancelled, nil
	}
}

func readLine(ctx context.Context, in *bufio.Reader) (string, error) {
	lines := make(chan string, 1)
	errs := make(chan error, 1)
	go func() {
		line, err := in.ReadString('\n')
		if err != nil && line == "" {
			errs <- err
			return
		}
		lines <- strings.ToLower(strings.TrimSpace(line))
	}()
	select {
	case line := <-lines:
		return line, nil
	case err := <-errs:
		return "", err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func printConfirmations(ptx *transaction.PendingTransaction) {
	common.PrintHeader("REVIEW TRANSACTION", common.DefaultWidth)
	lines := ptx.Confirmations()
	for i, c := range lines {
		fmt.Printf("%s %-18s %s\n", common.BoxPrefix(i == len(lines)-1), c.Label+":", c.Value)
	}
	common.PrintSeparator("=", common.DefaultWidth)
}

// drive reacts to flow states until the transaction completes or stops
// making progress. It returns the last state seen.
func drive(ctx context.Context, m *flow.Model, req *sendRequest, in *bufio.Reader) (flow.State, error) {
	var amountConfirmed, reviewed, leftExternal bool
	for {
		var st flow.State
		select {
		case st = <-m.Updates():
		case <-ctx.Done():
			m.Cancel()
			return m.State(), ctx.Err()
		}

		if st.Step.Awaiting() {
			leftExternal = true
			continue
		}
		if st.Loading {
			continue
		}

		switch st.Step {
		case flow.StepEnteringAmount:
			if !st.Error.IsZero() {
				return st, fmt.Errorf("%s", st.Error)
			}
			if leftExternal {
				return st, fmt.Errorf("transaction left waiting on an external step")
			}
			if !amountConfirmed && st.Pending != nil && st.Pending.Validation.IsValid() && st.Pending.Amount.Equal(req.amount) {
				amountConfirmed = true
				m.Confirm("")
			}

		case flow.StepConfirming:
			if reviewed {
				if !st.Error.IsZero() {
					return st, fmt.Errorf("%s", st.Error)
				}
				continue
			}
			reviewed = true
			printConfirmations(st.Pending)
			if !req.assumeYes {
				fmt.Print("Proceed? [y/N]: ")
				answer, err := readLine(ctx, in)
				if err != nil || answer != "y" {
					m.Cancel()
					return st, fmt.Errorf("transaction not confirmed")
				}
			}
			for _, kind := range st.Pending.PendingAcknowledgements() {
				m.Acknowledge(kind)
			}
			m.Confirm("")

		case flow.StepCompleted:
			return st, nil

		case flow.StepFailed:
			return st, fmt.Errorf("%s", st.Error)

		case flow.StepCancelled:
			return st, fmt.Errorf("transaction cancelled")
		}
	}
}

func main() {
	req, err := parseAndValidateFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	stopMetrics := common.ServeMetrics(cfg.MetricsAddr)
	defer stopMetrics()

	binding, err := buildBinding(req, services)
	if err != nil {
		zap.L().Fatal("Invalid send request", zap.Error(err))
	}

	eng, err := engine.Resolve(binding, services.EngineDeps())
	if err != nil {
		zap.L().Fatal("No engine for request", zap.Stringer("binding", binding), zap.Error(err))
	}

	in := bufio.NewReader(os.Stdin)
	model := flow.New(eng, flow.WithPresenter(&terminalPresenter{in: in}))
	model.Start(ctx)
	defer model.Stop()

	model.SetAmount(req.amount)
	if req.feeLevel >= 0 {
		model.SetFeeLevel(req.feeLevel, nil)
	}

	runCtx, runCancel := context.WithTimeout(ctx, req.timeout)
	defer runCancel()

	final, err := drive(runCtx, model, req, in)
	if err != nil {
		zap.L().Error("Transaction did not complete",
			zap.String("engine", eng.Name()),
			zap.Stringer("step", final.Step),
			zap.Error(err))
		fmt.Printf("\nTransaction failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nTransaction submitted")
	if final.Result != nil {
		fmt.Printf("   Reference: %s\n", final.Result.Reference)
		fmt.Printf("   Amount:    %s\n", final.Result.Amount.Display())
	}
	zap.L().Info("Send completed",
		zap.String("engine", eng.Name()),
		zap.Stringer("step", final.Step))
}
