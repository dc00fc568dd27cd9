package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"netmonitor/internal/rules"
	"netmonitor/pkg/api"
	"netmonitor/pkg/model"
	"netmonitor/pkg/rulespec"

	"github.com/spf13/cobra"
)

func newRulesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "List and manage persisted rewrite rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), a, func(svc api.Service) error {
				printRules(cmd.OutOrStdout(), svc.Rules())
				return nil
			})
		},
	}
	cmd.AddCommand(
		newRuleToggleCmd(a, "enable", true),
		newRuleToggleCmd(a, "disable", false),
		newRuleDeleteCmd(a),
	)
	return cmd
}

func newRuleToggleCmd(a *app, use string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <method> <host> <path>",
		Short: strings.ToUpper(use[:1]) + use[1:] + " the rule for a request identity",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), a, func(svc api.Service) error {
				id := identityArg(args)
				ok, err := svc.SetRuleEnabled(id, enabled)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("no rule for %s", id)
				}
				printRules(cmd.OutOrStdout(), svc.Rules())
				return nil
			})
		},
	}
}

func newRuleDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <method> <host> <path>",
		Short: "Revert every command of a rule, removing it",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), a, func(svc api.Service) error {
				return deleteRule(svc, identityArg(args), cmd.OutOrStdout())
			})
		},
	}
}

func deleteRule(svc api.Service, id rules.Identity, out io.Writer) error {
	var target *rules.Rule
	for _, r := range svc.Rules() {
		if r.Identity() == id {
			target = r
			break
		}
	}
	if target == nil {
		return fmt.Errorf("no rule for %s", id)
	}
	// 逐条撤销，最后一条命令撤销后规则被删除
	for _, c := range target.Commands {
		deleted, err := svc.RemoveRewriteCommand(target.Origin.ID, rulespec.RemoveCommandFor(c))
		if err != nil {
			return err
		}
		if deleted {
			fmt.Fprintln(out, dimStyle.Render("deleted "+id.String()))
			return nil
		}
	}
	return nil
}

func identityArg(args []string) rules.Identity {
	return rules.Identity{Method: model.Method(strings.ToUpper(args[0])), Host: args[1], Path: args[2]}
}

func withService(ctx context.Context, a *app, fn func(api.Service) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	svc, err := api.NewService(ctx, a.cfg, a.log)
	if err != nil {
		return err
	}
	defer svc.Close()
	return fn(svc)
}
