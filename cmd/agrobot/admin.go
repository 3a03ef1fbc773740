package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/agromarket/agro-bot/internal/models"
	"github.com/agromarket/agro-bot/internal/render"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			version, err := store.SchemaVersion(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", version)
			return nil
		},
	}
}

func parseTelegramID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid telegram id %q", s)
	}
	return id, nil
}

func newUserCmd() *cobra.Command {
	userCmd := &cobra.Command{
		Use:   "user",
		Short: "Inspect and edit user profiles",
	}

	showCmd := &cobra.Command{
		Use:   "show <tg_id>",
		Short: "Print a user's profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTelegramID(args[0])
			if err != nil {
				return err
			}
			_, store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			u, err := store.GetUserByExternalID(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "id=%d tg=%d role=%s name=%q company=%q region=%q phone=%q banned=%t\n",
				u.ID, u.ExternalID, u.Role, u.FirstName, u.Company, u.Region, u.Phone, u.IsBanned)
			return nil
		},
	}

	setCmd := &cobra.Command{
		Use:   "set <tg_id> <field> <value>",
		Short: "Set role, region, phone or company",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTelegramID(args[0])
			if err != nil {
				return err
			}
			_, store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.UpdateUserField(cmd.Context(), id, args[1], args[2]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %d: %s updated\n", id, args[1])
			return nil
		},
	}

	banCmd := func(use string, banned bool) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <tg_id>",
			Short: use + " a user",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseTelegramID(args[0])
				if err != nil {
					return err
				}
				_, store, err := openStore()
				if err != nil {
					return err
				}
				defer store.Close()

				if err := store.SetBanned(cmd.Context(), id, banned); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "user %d: banned=%t\n", id, banned)
				return nil
			},
		}
	}

	userCmd.AddCommand(showCmd, setCmd, banCmd("ban", true), banCmd("unban", false))
	return userCmd
}

type lotFlags struct {
	owner  int64
	kind   string
	crop   string
	volume float64
	price  float64
	region string
}

func (f lotFlags) validate() error {
	switch {
	case f.owner <= 0:
		return fmt.Errorf("--owner is required")
	case f.kind != string(models.ListingSell) && f.kind != string(models.ListingBuy):
		return fmt.Errorf("--type must be %q or %q", models.ListingSell, models.ListingBuy)
	case f.crop == "":
		return fmt.Errorf("--crop is required")
	case f.volume <= 0 || f.price <= 0:
		return fmt.Errorf("--volume and --price must be positive")
	}
	return nil
}

func newLotCmd() *cobra.Command {
	lotCmd := &cobra.Command{
		Use:   "lot",
		Short: "Manage marketplace lots",
	}

	var f lotFlags
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Create an active lot on behalf of a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := f.validate(); err != nil {
				return err
			}
			_, store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			owner, err := store.GetUserByExternalID(cmd.Context(), f.owner)
			if err != nil {
				return err
			}
			lot, err := store.CreateListing(cmd.Context(), &models.Listing{
				OwnerID: owner.ID,
				Type:    models.ListingType(f.kind),
				Crop:    f.crop,
				Volume:  f.volume,
				Price:   f.price,
				Region:  f.region,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "lot #%d created: %s, %s t at %s UAH/t\n",
				lot.ID, lot.Crop, render.Price(lot.Volume), render.Price(lot.Price))
			return nil
		},
	}
	addCmd.Flags().Int64Var(&f.owner, "owner", 0, "owner telegram id")
	addCmd.Flags().StringVar(&f.kind, "type", string(models.ListingSell), "sell or buy")
	addCmd.Flags().StringVar(&f.crop, "crop", "", "crop name")
	addCmd.Flags().Float64Var(&f.volume, "volume", 0, "volume in tonnes")
	addCmd.Flags().Float64Var(&f.price, "price", 0, "price in UAH per tonne")
	addCmd.Flags().StringVar(&f.region, "region", "", "region")

	closeCmd := &cobra.Command{
		Use:   "close <lot_id>",
		Short: "Close an active lot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid lot id %q", args[0])
			}
			_, store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.CloseListing(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "lot #%d closed\n", id)
			return nil
		},
	}

	lotCmd.AddCommand(addCmd, closeCmd)
	return lotCmd
}
