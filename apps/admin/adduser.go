package main

import (
	"context"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/cohortly/cohortly/core"
	"github.com/cohortly/cohortly/core/user"
)

var errInvalidEmail = errors.New("invalid email")

func (cli *commandLine) addUserCmd() *cobra.Command {
	var (
		uname, email, name string
		isAdmin            bool
	)
	cmd := &cobra.Command{
		Use:   "adduser",
		Short: "Create or update a staff user. The password is prompted next.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pwd, err := promptPassword(cmd)
			if err != nil {
				return err
			}
			usr, err := cli.addUser(cmd.Context(), uname, email, name, pwd, isAdmin)
			if err != nil {
				return err
			}
			cmd.Printf("User %q saved (%s)\n", usr.Username, usr.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&uname, "username", "", "the user's username")
	cmd.Flags().StringVar(&email, "email", "", "the user's email")
	cmd.Flags().StringVar(&name, "name", "", "the user's full name")
	cmd.Flags().BoolVar(&isAdmin, "admin", false, "grant the owner role instead of the trainer role")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

// addUser updates or creates an active staff user.User.
func (cli *commandLine) addUser(ctx context.Context, uname, email, name, pwd string, isAdmin bool) (user.User, error) {
	uname = core.CleanString(uname, true /* lower */)
	email = core.CleanString(email, true /* lower */)
	name = core.CleanString(name)

	if err := cli.validate.Var(email, "required,email"); err != nil {
		return user.User{}, core.NewFieldError("email", errInvalidEmail)
	}

	usr, err := cli.usrRepo.GetUser(ctx, user.GetFilter{UsernameOrEmail: uname})
	switch {
	case errors.Is(err, user.ErrNotFound):
		if err := cli.usrRepo.CheckUsernameUniqueness(ctx, uname, email, nil); err != nil {
			return user.User{}, err
		}
		usr = user.User{Username: uname, Email: email, Name: name, Roles: []string{user.RoleTrainer}}
	case err != nil:
		return user.User{}, err
	default:
		if err := cli.usrRepo.CheckUsernameUniqueness(ctx, uname, email, []user.User{usr}); err != nil {
			return user.User{}, err
		}
		usr.Email = email
		if name != "" {
			usr.Name = name
		}
	}
	if usr.Name == "" {
		usr.Name = uname
	}
	if isAdmin {
		usr.Roles = []string{user.RoleAdminOwner}
	}
	usr.IsActive = true
	if err := usr.SetPassword(pwd); err != nil {
		return user.User{}, err
	}
	return cli.usrRepo.UpdateOrCreateUser(ctx, usr)
}
