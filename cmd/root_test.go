package main

import (
	"testing"

	"github.com/spf13/cobra"
)

func TestRoot_SubcommandsPresent(t *testing.T) {
	have := map[string]*cobra.Command{}
	for _, c := range rootCmd.Commands() {
		have[c.Name()] = c
	}
	for _, want := range []string{"run", "serve", "models", "history", "questions"} {
		if have[want] == nil {
			t.Fatalf("missing subcommand %s", want)
		}
	}

	subs := map[string][]string{
		"models":  {"list", "show", "add"},
		"history": {"list", "show", "export", "delete", "clear"},
	}
	for parent, names := range subs {
		got := map[string]bool{}
		for _, sc := range have[parent].Commands() {
			got[sc.Name()] = true
		}
		for _, n := range names {
			if !got[n] {
				t.Fatalf("%s is missing subcommand %s: %v", parent, n, got)
			}
		}
	}
}

func TestCommands_HaveDescriptions(t *testing.T) {
	var check func(*cobra.Command)
	check = func(cmd *cobra.Command) {
		if cmd.Short == "" || cmd.Long == "" {
			t.Fatalf("command %s missing Short/Long", cmd.Name())
		}
		for _, sc := range cmd.Commands() {
			if sc.Name() == "help" || sc.Name() == "completion" {
				continue
			}
			check(sc)
		}
	}
	check(rootCmd)
}

func TestRunFlags_BoundToDefaults(t *testing.T) {
	for _, name := range []string{"concurrency", "iterations", "max-tokens", "temperature"} {
		if runCmd.Flags().Lookup(name) == nil {
			t.Fatalf("run is missing --%s", name)
		}
	}
	if rootCmd.PersistentFlags().Lookup("config") == nil {
		t.Fatalf("root is missing --config")
	}
}
