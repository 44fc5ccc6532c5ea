package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/itstheanurag/codesandbox/internal/executor"
	"github.com/itstheanurag/codesandbox/internal/server"
	"github.com/spf13/cobra"
)

var debugArgs struct {
	language    string
	inputFile   string
	timeLimit   int64
	memoryLimit int64
}

var debugCmd = &cobra.Command{
	Use:   "debug <source-file>",
	Short: "Run one source file against one input and print the verdict as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, logger, err := setup()
		if err != nil {
			return err
		}

		code, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read source: %w", err)
		}
		var input []byte
		if debugArgs.inputFile != "" {
			if input, err = os.ReadFile(debugArgs.inputFile); err != nil {
				return fmt.Errorf("failed to read input: %w", err)
			}
		}

		core, err := server.NewCore(conf, logger)
		if err != nil {
			return err
		}
		defer core.Engine.Close()

		v, err := core.Executor.Debug(cmd.Context(), executor.DebugRequest{
			Language:         debugArgs.language,
			Code:             string(code),
			Input:            string(input),
			TimeLimitMs:      debugArgs.timeLimit,
			MemoryLimitBytes: debugArgs.memoryLimit,
		})
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"status":       v.Status.String(),
			"code":         int(v.Status),
			"message":      v.Message,
			"output":       v.Output,
			"time_ms":      v.TimeMs,
			"memory_bytes": v.MemoryBytes,
		})
	},
}

func init() {
	rootCmd.AddCommand(debugCmd)

	debugCmd.Flags().StringVarP(&debugArgs.language, "lang", "l", "", "submission language (c, cpp, rust, java, python)")
	debugCmd.Flags().StringVarP(&debugArgs.inputFile, "input", "i", "", "file fed to the program on stdin")
	debugCmd.Flags().Int64Var(&debugArgs.timeLimit, "time-limit", 0, "time limit in ms (default 2000)")
	debugCmd.Flags().Int64Var(&debugArgs.memoryLimit, "memory-limit", 0, "memory limit in bytes (default 128MiB)")
	_ = debugCmd.MarkFlagRequired("lang")
}
