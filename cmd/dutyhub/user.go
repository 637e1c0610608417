package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fentz26/dutyhub/internal/controlplane"
	"github.com/fentz26/dutyhub/internal/models"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users",
}

var userAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a user",
	RunE:  runUserAdd,
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List users",
	RunE:  runUserList,
}

var userShowCmd = &cobra.Command{
	Use:   "show [user-id]",
	Short: "Show a user and their duty counts",
	Args:  cobra.ExactArgs(1),
	RunE:  runUserShow,
}

var (
	userEmail  string
	userName   string
	userMatric string
)

func init() {
	userCmd.AddCommand(userAddCmd, userListCmd, userShowCmd)

	userAddCmd.Flags().StringVar(&userEmail, "email", "", "Email address (required)")
	userAddCmd.Flags().StringVar(&userName, "name", "", "Display name (required)")
	userAddCmd.Flags().StringVar(&userMatric, "matric", "", "Matric number")
	userAddCmd.MarkFlagRequired("email")
	userAddCmd.MarkFlagRequired("name")
}

func runUserAdd(cmd *cobra.Command, args []string) error {
	body := map[string]string{
		"email":  userEmail,
		"name":   userName,
		"matric": userMatric,
	}

	var user models.User
	if _, err := apiPost("/users", body, &user); err != nil {
		return err
	}

	fmt.Printf("Created user: %s\n", user.ID)
	return nil
}

func runUserList(cmd *cobra.Command, args []string) error {
	var users []models.User
	if _, err := apiGet("/users", &users); err != nil {
		return err
	}
	printUserTable(users)
	return nil
}

func runUserShow(cmd *cobra.Command, args []string) error {
	var detail controlplane.UserDetail
	if _, err := apiGet("/users/"+args[0], &detail); err != nil {
		return err
	}

	fmt.Printf("ID:      %s\n", detail.ID)
	fmt.Printf("Name:    %s\n", detail.Name)
	fmt.Printf("Email:   %s\n", detail.Email)
	if detail.Matric != "" {
		fmt.Printf("Matric:  %s\n", detail.Matric)
	}
	fmt.Printf("Owned:   %d\n", detail.DutiesOwned)
	fmt.Printf("Owed:    %d\n", detail.DutiesOwed)
	fmt.Printf("On duty: %t\n", detail.OnDuty)
	return nil
}

func printUserTable(users []models.User) {
	if len(users) == 0 {
		fmt.Println("No users found")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tEMAIL\tMATRIC")
	for _, u := range users {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", u.ID, u.Name, u.Email, u.Matric)
	}
	w.Flush()
}
