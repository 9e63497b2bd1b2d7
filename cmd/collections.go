package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"faceserver/models"

	"github.com/spf13/cobra"
)

var collectionsCmd = &cobra.Command{
	Use:   "collections",
	Short: "Manage face collections",
}

var collectionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all face collections",
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := newAWSSession()
		if err != nil {
			return err
		}
		service := newFaceService(sess)
		ids, err := service.ListCollections(cmd.Context())
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			fmt.Println("No collections found.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "COLLECTION\tREGISTERED FACES")
		fmt.Fprintln(w, "----------\t----------------")
		for _, id := range ids {
			known, _ := models.RegisteredFacesByID(id)
			fmt.Fprintf(w, "%s\t%d\n", id, len(known))
		}
		return w.Flush()
	},
}

var collectionsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a face collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := newAWSSession()
		if err != nil {
			return err
		}
		collection, err := newFaceService(sess).CreateCollection(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Created %s (%s)\n", collection.ID, collection.ARN)
		return nil
	},
}

var collectionsDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a face collection and its registered faces",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := newAWSSession()
		if err != nil {
			return err
		}
		if err = newFaceService(sess).DeleteCollection(cmd.Context(), args[0]); err != nil {
			return err
		}
		if err = models.DeleteCollectionFaces(args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted %s\n", args[0])
		return nil
	},
}

func init() {
	collectionsCmd.AddCommand(collectionsListCmd, collectionsCreateCmd, collectionsDeleteCmd)
	rootCmd.AddCommand(collectionsCmd)
}
