package main

import (
	"fmt"

	"github.com/eshaffer321/civicreport-go/pkg/civic"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Update the signed-in user's profile",
	Long: `Changes the profile remotely and merges the change into the stored
session. Only the flags given are changed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		update := &civic.ProfileUpdate{}
		flags := cmd.Flags()
		for name, field := range map[string]**string{
			"name":   &update.DisplayName,
			"email":  &update.Email,
			"avatar": &update.AvatarURL,
		} {
			if !flags.Changed(name) {
				continue
			}
			v, err := flags.GetString(name)
			if err != nil {
				return errors.Wrapf(err, "invalid --%s", name)
			}
			*field = &v
		}

		sess, err := client.Users.UpdateProfile(cmd.Context(), update)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Profile updated: %s <%s>\n", sess.DisplayName, sess.Email)
		return nil
	},
}

func init() {
	profileCmd.Flags().String("name", "", "new display name")
	profileCmd.Flags().String("email", "", "new email")
	profileCmd.Flags().String("avatar", "", "new avatar URL")
}
