/**
 * @description
 * This package is the interaction layer of the ATM. It owns every prompt, the
 * confirmation gate for withdrawals and transfers, and all rendering. Business rules
 * live in internal/app; this package only turns answers into service calls and
 * service results into text.
 *
 * @dependencies
 * - golang.org/x/term: masked PIN input.
 * - golang.org/x/text: locale-aware amount formatting.
 */
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/transfa/atm-cli/internal/domain"
)

// Banking is the set of account operations the ATM drives.
type Banking interface {
	Register(ctx context.Context, name, pin string) (*domain.Account, error)
	Login(ctx context.Context, name, pin string) (*domain.Session, error)
	CheckBalance(ctx context.Context, sess *domain.Session) (*domain.Account, error)
	Deposit(ctx context.Context, sess *domain.Session, amount int64) (*domain.Account, error)
	PrepareWithdrawal(ctx context.Context, sess *domain.Session, amount int64) (*domain.WithdrawalPlan, error)
	Withdraw(ctx context.Context, sess *domain.Session, plan *domain.WithdrawalPlan) (*domain.Account, error)
	PrepareTransfer(ctx context.Context, sess *domain.Session, recipientName string, amount int64) (*domain.TransferPlan, error)
	Transfer(ctx context.Context, sess *domain.Session, plan *domain.TransferPlan) (*domain.Account, error)
	History(ctx context.Context, sess *domain.Session, limit int) ([]domain.HistoryItem, error)
}

// ATM runs the interactive menus against a Banking implementation.
type ATM struct {
	bank         Banking
	prompt       *Prompter
	format       Formatter
	out          io.Writer
	historyLimit int
}

func NewATM(bank Banking, prompt *Prompter, format Formatter, out io.Writer, historyLimit int) *ATM {
	return &ATM{bank: bank, prompt: prompt, format: format, out: out, historyLimit: historyLimit}
}

func (a *ATM) printf(format string, args ...interface{}) {
	fmt.Fprintf(a.out, format, args...)
}

func (a *ATM) header(title string) {
	if a.prompt.Interactive() {
		a.printf("\033[H\033[2J")
	}
	a.printf("=== %s ===\n\n", title)
}

func (a *ATM) footer() {
	a.printf("\nThank you for using ATM CLI.\n\n")
}

// Run shows the start menu until the user exits. End of input ends the run
// without an error.
func (a *ATM) Run(ctx context.Context) error {
	err := a.startMenu(ctx)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// RunCommand runs a single flow by name, "register" or "login".
func (a *ATM) RunCommand(ctx context.Context, name string) error {
	var err error
	switch name {
	case "register":
		err = a.RegisterFlow(ctx)
	case "login":
		err = a.LoginFlow(ctx)
	default:
		return fmt.Errorf("unknown command %q", name)
	}
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (a *ATM) startMenu(ctx context.Context) error {
	options := []string{"Login", "Register", "Exit"}
	for {
		a.header("ATM CLI")
		choice, err := a.prompt.Choose("Choose an action:", options)
		if errors.Is(err, ErrInvalidChoice) {
			a.printf("Please pick one of the listed options.\n")
			continue
		}
		if err != nil {
			return err
		}

		switch choice {
		case 0:
			if err := a.LoginFlow(ctx); err != nil {
				return err
			}
		case 1:
			if err := a.RegisterFlow(ctx); err != nil {
				return err
			}
		case 2:
			a.printf("Goodbye!\n")
			return nil
		}
	}
}

// RegisterFlow prompts for a name and PIN and creates the account.
func (a *ATM) RegisterFlow(ctx context.Context) error {
	a.header("Register New Account")
	name, err := a.prompt.Line("Name:")
	if err != nil {
		return err
	}
	pin, err := a.prompt.Secret("PIN (4 digits):")
	if err != nil {
		return err
	}

	if _, err := a.bank.Register(ctx, name, pin); err != nil {
		a.printf("Registration failed: %s\n", ErrorMessage(err))
	} else {
		a.printf("Registration successful! Please log in.\n")
	}
	a.footer()
	return a.prompt.Pause()
}

// LoginFlow authenticates and, on success, runs the main menu until logout.
func (a *ATM) LoginFlow(ctx context.Context) error {
	a.header("Login")
	name, err := a.prompt.Line("Name:")
	if err != nil {
		return err
	}
	pin, err := a.prompt.Secret("PIN (4 digits):")
	if err != nil {
		return err
	}

	sess, err := a.bank.Login(ctx, name, pin)
	if err != nil {
		a.printf("Login failed: %s\n", ErrorMessage(err))
		a.footer()
		return a.prompt.Pause()
	}
	a.printf("Login successful! Welcome, %s.\n", sess.Account.Name)
	return a.mainMenu(ctx, sess)
}

func (a *ATM) mainMenu(ctx context.Context, sess *domain.Session) error {
	options := []string{"Check balance", "Deposit", "Withdraw", "Transfer", "Transaction history", "Logout"}
	for {
		a.header("ATM CLI")
		a.printf("Welcome, %s!\n", sess.Account.Name)
		a.printf("Your balance: %s\n", a.format.Money(sess.Account.Balance))
		a.printf("----------------------------\n")

		choice, err := a.prompt.Choose("Choose a menu:", options)
		if errors.Is(err, ErrInvalidChoice) {
			a.printf("Please pick one of the listed options.\n")
			continue
		}
		if err != nil {
			return err
		}

		var opErr error
		switch choice {
		case 0:
			opErr = a.checkBalance(ctx, sess)
		case 1:
			opErr = a.deposit(ctx, sess)
		case 2:
			opErr = a.withdraw(ctx, sess)
		case 3:
			opErr = a.transfer(ctx, sess)
		case 4:
			opErr = a.history(ctx, sess)
		case 5:
			a.printf("Thank you, %s. See you!\n", sess.Account.Name)
			return nil
		}
		if opErr != nil {
			return opErr
		}
		a.footer()
		if err := a.prompt.Pause(); err != nil {
			return err
		}
	}
}

func (a *ATM) checkBalance(ctx context.Context, sess *domain.Session) error {
	a.header("Check Balance")
	account, err := a.bank.CheckBalance(ctx, sess)
	if err != nil {
		a.printf("%s\n", ErrorMessage(err))
		return nil
	}
	a.printf("Your balance: %s\n", a.format.Money(account.Balance))
	return nil
}

func (a *ATM) deposit(ctx context.Context, sess *domain.Session) error {
	a.header("Cash Deposit")
	a.printf("Current balance: %s\n", a.format.Money(sess.Account.Balance))
	amount, err := a.prompt.Amount("Deposit amount (e.g. 50000):")
	if err != nil {
		return err
	}

	account, err := a.bank.Deposit(ctx, sess, amount)
	if err != nil {
		a.printf("Deposit failed: %s\n", ErrorMessage(err))
		return nil
	}
	a.printf("Deposit successful!\n")
	a.printf("Amount: %s\n", a.format.Money(amount))
	a.printf("New balance: %s\n", a.format.Money(account.Balance))
	return nil
}

func (a *ATM) withdraw(ctx context.Context, sess *domain.Session) error {
	a.header("Cash Withdrawal")
	a.printf("Current balance: %s\n", a.format.Money(sess.Account.Balance))
	amount, err := a.prompt.Amount("Withdrawal amount (e.g. 50000):")
	if err != nil {
		return err
	}

	plan, err := a.bank.PrepareWithdrawal(ctx, sess, amount)
	if err != nil {
		a.printf("%s\n", ErrorMessage(err))
		return nil
	}

	ok, err := a.prompt.Confirm(fmt.Sprintf("Withdraw %s?", a.format.Money(plan.Amount)))
	if err != nil {
		return err
	}
	if !ok {
		a.printf("Transaction cancelled.\n")
		return nil
	}

	account, err := a.bank.Withdraw(ctx, sess, plan)
	if err != nil {
		a.printf("Withdrawal failed: %s\n", ErrorMessage(err))
		return nil
	}
	a.printf("Withdrawal successful!\n")
	a.printf("Amount: %s\n", a.format.Money(plan.Amount))
	a.printf("New balance: %s\n", a.format.Money(account.Balance))
	return nil
}

func (a *ATM) transfer(ctx context.Context, sess *domain.Session) error {
	a.header("Transfer Funds")
	a.printf("Current balance: %s\n", a.format.Money(sess.Account.Balance))
	recipient, err := a.prompt.Line("Recipient name:")
	if err != nil {
		return err
	}
	amount, err := a.prompt.Amount("Transfer amount (e.g. 50000):")
	if err != nil {
		return err
	}

	plan, err := a.bank.PrepareTransfer(ctx, sess, recipient, amount)
	if err != nil {
		a.printf("%s\n", ErrorMessage(err))
		return nil
	}

	ok, err := a.prompt.Confirm(fmt.Sprintf("Transfer %s to %s?", a.format.Money(plan.Amount), plan.RecipientName))
	if err != nil {
		return err
	}
	if !ok {
		a.printf("Transaction cancelled.\n")
		return nil
	}

	account, err := a.bank.Transfer(ctx, sess, plan)
	if err != nil {
		a.printf("%s\n", ErrorMessage(err))
		return nil
	}
	a.printf("Transfer successful!\n")
	a.printf("Amount: %s\n", a.format.Money(plan.Amount))
	a.printf("New balance: %s\n", a.format.Money(account.Balance))
	return nil
}

func (a *ATM) history(ctx context.Context, sess *domain.Session) error {
	a.header("Transaction History")
	items, err := a.bank.History(ctx, sess, a.historyLimit)
	if err != nil {
		a.printf("%s\n", ErrorMessage(err))
		return nil
	}
	if len(items) == 0 {
		a.printf("No transactions yet.\n")
		return nil
	}
	for _, item := range items {
		a.printf("%s\n", a.format.HistoryLine(item))
	}
	return nil
}
