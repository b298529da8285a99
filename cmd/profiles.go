package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mjones3/architect-transcript-insights/domain/entities"
	"github.com/mjones3/architect-transcript-insights/usecase"
)

var profilesJSON bool

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Manage stored speaker profiles",
	Long: `Inspect and correct speaker profiles directly in the configured store
(PROFILE_STORE). Run against a stopped server: the server caches profiles in
memory and will overwrite changes made behind its back.

Examples:
  speakerid profiles list
  speakerid profiles rename 6f1c... "Dana"
  speakerid profiles merge 6f1c... 93ab...
  speakerid profiles create "Dana" dana.wav`,
}

var profilesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all profiles",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSpeakers(cmd.Context(), func(svc *usecase.SpeakerService) error {
			list := svc.ListProfiles(cmd.Context())
			if profilesJSON {
				return printJSON(cmd.OutOrStdout(), list)
			}
			printProfiles(cmd.OutOrStdout(), list)
			return nil
		})
	},
}

var profilesStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show profile statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSpeakers(cmd.Context(), func(svc *usecase.SpeakerService) error {
			return printJSON(cmd.OutOrStdout(), svc.Stats(cmd.Context()))
		})
	},
}

var profilesShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSpeakers(cmd.Context(), func(svc *usecase.SpeakerService) error {
			p, ok := svc.GetProfile(cmd.Context(), args[0])
			if !ok {
				return fmt.Errorf("%w: %s", usecase.ErrProfileNotFound, args[0])
			}
			return printJSON(cmd.OutOrStdout(), p)
		})
	},
}

var profilesRenameCmd = &cobra.Command{
	Use:   "rename <id> <name>",
	Short: "Rename a profile and mark it verified",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSpeakers(cmd.Context(), func(svc *usecase.SpeakerService) error {
			ok, err := svc.Rename(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: %s", usecase.ErrProfileNotFound, args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "renamed %s\n", args[0])
			return nil
		})
	},
}

var profilesMergeCmd = &cobra.Command{
	Use:   "merge <primary-id> <secondary-id>",
	Short: "Fold the secondary profile into the primary and remove it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSpeakers(cmd.Context(), func(svc *usecase.SpeakerService) error {
			ok, err := svc.Merge(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: %s or %s", usecase.ErrProfileNotFound, args[0], args[1])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "merged %s into %s\n", args[1], args[0])
			return nil
		})
	},
}

var profilesDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSpeakers(cmd.Context(), func(svc *usecase.SpeakerService) error {
			ok, err := svc.Delete(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: %s", usecase.ErrProfileNotFound, args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		})
	},
}

var profilesCreateCmd = &cobra.Command{
	Use:   "create <name> <audio-file>",
	Short: "Enroll a verified speaker from an audio sample",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		audio, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("read sample: %w", err)
		}
		return withSpeakers(cmd.Context(), func(svc *usecase.SpeakerService) error {
			p, err := svc.CreateProfile(cmd.Context(), args[0], audio, "")
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s)\n", p.ID, p.DisplayName)
			return nil
		})
	},
}

func init() {
	profilesCmd.PersistentFlags().BoolVar(&profilesJSON, "json", false, "print JSON instead of a table")
	profilesCmd.AddCommand(
		profilesListCmd,
		profilesStatsCmd,
		profilesShowCmd,
		profilesRenameCmd,
		profilesMergeCmd,
		profilesDeleteCmd,
		profilesCreateCmd,
	)
	rootCmd.AddCommand(profilesCmd)
}

// withSpeakers runs fn against a speaker service over the configured store.
func withSpeakers(ctx context.Context, fn func(svc *usecase.SpeakerService) error) error {
	env, err := loadEnvironment()
	if err != nil {
		return err
	}
	defer env.logger.Sync()

	if ctx == nil {
		ctx = context.Background()
	}
	repo, closeRepo, err := env.openRepository(ctx)
	if err != nil {
		return err
	}
	defer closeRepo()

	return fn(env.newSpeakerService(repo))
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printProfiles(w io.Writer, list []*entities.SpeakerProfile) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSAMPLES\tVERIFIED\tLAST SEEN\tMEETINGS")
	for _, p := range list {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%t\t%s\t%d\n",
			p.ID, p.DisplayName, p.SampleCount, p.Verified,
			p.LastSeen.Local().Format(time.DateTime), len(p.MeetingIDs))
	}
	tw.Flush()
}
