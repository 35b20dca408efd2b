package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/chzyer/readline"
	shellwords "github.com/mattn/go-shellwords"
	"github.com/spf13/cobra"

	"github.com/pingcap-incubator/tinytxn/kv/transaction"
	"github.com/pingcap-incubator/tinytxn/kv/util/engine_util"
)

// shellTxn is the transaction the shell session is currently inside, nil
// between transactions.
var shellTxn *transaction.Txn

func newShellCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive transactional client",
		Run:   runShellCommandFunc,
	}
}

func runShellCommandFunc(cmd *cobra.Command, args []string) {
	initGlobal()
	defer closeGlobal()

	shellLoop()

	if shellTxn != nil {
		shellTxn.Discard()
	}
}

func runShellLine(args []string) {
	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Interactive transactional client",
	}
	cmd.SetArgs(args)

	cmd.AddCommand(
		&cobra.Command{
			Use:                   "begin [pessimistic] [snapshot]",
			Short:                 "Begin a transaction",
			Args:                  cobra.MaximumNArgs(2),
			Run:                   runShellBeginCommand,
			DisableFlagsInUseLine: true,
		},
		&cobra.Command{
			Use:                   "commit",
			Short:                 "Commit the current transaction",
			Run:                   runShellCommitCommand,
			DisableFlagsInUseLine: true,
		},
		&cobra.Command{
			Use:                   "rollback",
			Short:                 "Roll back the current transaction",
			Run:                   runShellRollbackCommand,
			DisableFlagsInUseLine: true,
		},
		&cobra.Command{
			Use:                   "savepoint",
			Short:                 "Set a savepoint in the current transaction",
			Run:                   runShellSavepointCommand,
			DisableFlagsInUseLine: true,
		},
		&cobra.Command{
			Use:                   "undo",
			Short:                 "Roll back to the most recent savepoint",
			Run:                   runShellUndoCommand,
			DisableFlagsInUseLine: true,
		},
		&cobra.Command{
			Use:                   "get key",
			Short:                 "Read a key",
			Args:                  cobra.ExactArgs(1),
			Run:                   runShellGetCommand,
			DisableFlagsInUseLine: true,
		},
		&cobra.Command{
			Use:                   "lock key [shared]",
			Short:                 "Read a key and lock it for update",
			Args:                  cobra.RangeArgs(1, 2),
			Run:                   runShellLockCommand,
			DisableFlagsInUseLine: true,
		},
		&cobra.Command{
			Use:                   "put key value",
			Short:                 "Write a key",
			Args:                  cobra.ExactArgs(2),
			Run:                   runShellPutCommand,
			DisableFlagsInUseLine: true,
		},
		&cobra.Command{
			Use:                   "delete key",
			Short:                 "Delete a key",
			Args:                  cobra.ExactArgs(1),
			Run:                   runShellDeleteCommand,
			DisableFlagsInUseLine: true,
		},
		&cobra.Command{
			Use:                   "merge key operand",
			Short:                 "Queue a merge against a key",
			Args:                  cobra.ExactArgs(2),
			Run:                   runShellMergeCommand,
			DisableFlagsInUseLine: true,
		},
		&cobra.Command{
			Use:                   "scan [prefix] [limit]",
			Short:                 "Scan keys in order, optionally bounded by a prefix",
			Args:                  cobra.MaximumNArgs(2),
			Run:                   runShellScanCommand,
			DisableFlagsInUseLine: true,
		},
		&cobra.Command{
			Use:                   "status",
			Short:                 "Show the state of the current transaction",
			Run:                   runShellStatusCommand,
			DisableFlagsInUseLine: true,
		},
	)

	if err := cmd.Execute(); err != nil {
		fmt.Println(cmd.UsageString())
	}
}

// withTxn runs fn inside the session transaction, or inside a throwaway
// auto-commit transaction when none is open.
func withTxn(fn func(txn *transaction.Txn) error) {
	if shellTxn != nil {
		if err := fn(shellTxn); err != nil {
			fmt.Println(err)
		}
		return
	}
	if err := globalDB.Update(fn); err != nil {
		fmt.Println(err)
	}
}

func runShellBeginCommand(cmd *cobra.Command, args []string) {
	if shellTxn != nil {
		fmt.Printf("already inside txn %d, commit or rollback first\n", shellTxn.ID())
		return
	}
	var opts transaction.TxnOptions
	for _, arg := range args {
		switch arg {
		case "pessimistic":
			opts.Pessimistic = true
		case "snapshot":
			opts.SnapshotOnBegin = true
		default:
			fmt.Printf("unknown begin option %q\n", arg)
			return
		}
	}
	txn, err := globalDB.Begin(opts)
	if err != nil {
		fmt.Println(err)
		return
	}
	shellTxn = txn
	fmt.Printf("begin txn %d\n", txn.ID())
}

func runShellCommitCommand(cmd *cobra.Command, args []string) {
	if shellTxn == nil {
		fmt.Println("no open transaction")
		return
	}
	if err := shellTxn.Commit(); err != nil {
		fmt.Println(err)
		if transaction.IsRetryable(err) {
			fmt.Println("the transaction is still open, retry or rollback")
		}
		return
	}
	fmt.Printf("txn %d committed\n", shellTxn.ID())
	shellTxn = nil
}

func runShellRollbackCommand(cmd *cobra.Command, args []string) {
	if shellTxn == nil {
		fmt.Println("no open transaction")
		return
	}
	if err := shellTxn.Rollback(); err != nil {
		fmt.Println(err)
		return
	}
	fmt.Printf("txn %d rolled back\n", shellTxn.ID())
	shellTxn = nil
}

func runShellSavepointCommand(cmd *cobra.Command, args []string) {
	if shellTxn == nil {
		fmt.Println("no open transaction")
		return
	}
	if err := shellTxn.SetSavepoint(); err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println("savepoint set")
}

func runShellUndoCommand(cmd *cobra.Command, args []string) {
	if shellTxn == nil {
		fmt.Println("no open transaction")
		return
	}
	if err := shellTxn.RollbackToSavepoint(); err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println("rolled back to savepoint")
}

func runShellGetCommand(cmd *cobra.Command, args []string) {
	withTxn(func(txn *transaction.Txn) error {
		val, err := txn.Get([]byte(args[0]))
		if err != nil {
			return err
		}
		if val == nil {
			fmt.Printf("%s not found\n", args[0])
			return nil
		}
		fmt.Printf("%s=%q\n", args[0], val)
		return nil
	})
}

func runShellLockCommand(cmd *cobra.Command, args []string) {
	if shellTxn == nil {
		fmt.Println("lock needs an open transaction")
		return
	}
	exclusive := true
	if len(args) == 2 {
		if args[1] != "shared" {
			fmt.Printf("unknown lock option %q\n", args[1])
			return
		}
		exclusive = false
	}
	val, err := shellTxn.GetForUpdate([]byte(args[0]), exclusive)
	if err != nil {
		fmt.Println(err)
		return
	}
	if val == nil {
		fmt.Printf("%s locked, not found\n", args[0])
		return
	}
	fmt.Printf("%s locked, %s=%q\n", args[0], args[0], val)
}

func runShellPutCommand(cmd *cobra.Command, args []string) {
	withTxn(func(txn *transaction.Txn) error {
		if err := txn.Put([]byte(args[0]), []byte(args[1])); err != nil {
			return err
		}
		fmt.Printf("put %s ok\n", args[0])
		return nil
	})
}

func runShellDeleteCommand(cmd *cobra.Command, args []string) {
	withTxn(func(txn *transaction.Txn) error {
		if err := txn.Delete([]byte(args[0])); err != nil {
			return err
		}
		fmt.Printf("delete %s ok\n", args[0])
		return nil
	})
}

func runShellMergeCommand(cmd *cobra.Command, args []string) {
	withTxn(func(txn *transaction.Txn) error {
		if err := txn.Merge([]byte(args[0]), []byte(args[1])); err != nil {
			return err
		}
		fmt.Printf("merge %s ok\n", args[0])
		return nil
	})
}

func runShellScanCommand(cmd *cobra.Command, args []string) {
	var prefix []byte
	limit := 20
	if len(args) >= 1 {
		prefix = []byte(args[0])
	}
	if len(args) == 2 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n <= 0 {
			fmt.Printf("invalid scan limit %s\n", args[1])
			return
		}
		limit = n
	}
	withTxn(func(txn *transaction.Txn) error {
		var it *transaction.TxnIterator
		var err error
		if len(prefix) > 0 {
			it, err = txn.PrefixIterCF(engine_util.CfDefault, prefix)
		} else {
			it, err = txn.IterCF(engine_util.CfDefault)
		}
		if err != nil {
			return err
		}
		defer it.Close()

		count := 0
		for ; it.Valid() && count < limit; it.Next() {
			val, err := it.Item().Value()
			if err != nil {
				return err
			}
			fmt.Printf("%s=%q\n", it.Item().Key(), val)
			count++
		}
		fmt.Printf("%d record(s)\n", count)
		return nil
	})
}

func runShellStatusCommand(cmd *cobra.Command, args []string) {
	if shellTxn == nil {
		fmt.Println("no open transaction, reads and writes auto-commit")
		return
	}
	fmt.Printf("txn %d: %s\n", shellTxn.ID(), shellTxn.State())
}

func shellLoop() {
	l, err := readline.NewEx(&readline.Config{
		Prompt:            "\033[31m»\033[0m ",
		HistoryFile:       "/tmp/tinytxn-cli.history",
		InterruptPrompt:   "^C",
		EOFPrompt:         "^D",
		HistorySearchFold: true,
	})
	if err != nil {
		fmt.Println(err)
		return
	}
	defer l.Close()

	parser := shellwords.NewParser()
	for {
		line, err := l.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				return
			}
			continue
		}
		args, err := parser.Parse(line)
		if err != nil {
			fmt.Printf("parse %q: %v\n", line, err)
			continue
		}
		if len(args) == 0 {
			continue
		}
		if args[0] == "exit" || args[0] == "quit" {
			return
		}
		runShellLine(args)
	}
}
