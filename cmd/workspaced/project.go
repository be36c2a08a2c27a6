package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/workspaced/internal/manifest"
	"github.com/fyrsmithlabs/workspaced/internal/project"
)

var (
	launchWorkflow string
	launchVersion  int
	launchNew      bool

	exportVersion int

	saveWorkspace string

	copyVersion int
)

func init() {
	launchCmd.Flags().StringVar(&launchWorkflow, "workflow", "", "workflow module to launch with")
	launchCmd.Flags().IntVar(&launchVersion, "version", 0, "version to launch (default latest)")
	launchCmd.Flags().BoolVar(&launchNew, "new", false, "force a new version from the latest archive")

	exportCmd.Flags().IntVar(&exportVersion, "version", 0, "version to export (default latest)")

	saveCmd.Flags().StringVar(&saveWorkspace, "workspace", "", "workspace directory to snapshot into a version record")
	saveAsCmd.Flags().StringVar(&saveWorkspace, "workspace", "", "workspace directory to snapshot into a version record")

	copyCmd.Flags().IntVar(&copyVersion, "version", 0, "source version to copy (default latest)")

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(launchCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(saveCmd)
	rootCmd.AddCommand(saveAsCmd)
	rootCmd.AddCommand(copyCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(versionsCmd)
}

// createCmd inserts a new project from a manifest file.
var createCmd = &cobra.Command{
	Use:   "create <manifest.json>",
	Short: "Create a project from a manifest file",
	Long: `Create a project from a JSON manifest file.

Examples:
  workspaced create project.json`,
	Args: cobra.ExactArgs(1),
	RunE: runCreate,
}

// launchCmd materializes a project version in the workspace.
var launchCmd = &cobra.Command{
	Use:   "launch <project-id>",
	Short: "Launch a project workspace",
	Long: `Launch a project version into the workspace directory.

A project without versions gets a fresh directory built from templates.
A project with an archived version is unpacked from the archive; --new
unpacks it as the next version instead.

Examples:
  workspaced launch 8f14e45f --workflow topic-modeling
  workspaced launch 8f14e45f --version 2
  workspaced launch 8f14e45f --new`,
	Args: cobra.ExactArgs(1),
	RunE: runLaunch,
}

// exportCmd writes a version archive into the exports directory.
var exportCmd = &cobra.Command{
	Use:   "export <project-id>",
	Short: "Export a project version as a zip archive",
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

// saveCmd persists a project, optionally snapshotting a workspace directory.
var saveCmd = &cobra.Command{
	Use:   "save <project-id>",
	Short: "Save a project, optionally embedding a workspace snapshot",
	Long: `Save a project manifest back to the document store.

With --workspace, the directory is zipped and compared against the latest
embedded archive; a changed workspace becomes the next version.

Examples:
  workspaced save 8f14e45f
  workspaced save 8f14e45f --workspace workspace/my-project`,
	Args: cobra.ExactArgs(1),
	RunE: runSave,
}

// saveAsCmd saves a copy of the project under a new name.
var saveAsCmd = &cobra.Command{
	Use:   "save-as <project-id> <new-name>",
	Short: "Save a project under a new name",
	Args:  cobra.ExactArgs(2),
	RunE:  runSaveAs,
}

// copyCmd copies a project from one of its versions.
var copyCmd = &cobra.Command{
	Use:   "copy <project-id> <new-name>",
	Short: "Copy a project into a new project",
	Args:  cobra.ExactArgs(2),
	RunE:  runCopy,
}

// deleteCmd removes a project, or one of its versions.
var deleteCmd = &cobra.Command{
	Use:   "delete <project-id> [version]",
	Short: "Delete a project or one of its versions",
	Long: `Delete a project from the document store.

With a version number, only that version record is removed.

Examples:
  workspaced delete 8f14e45f
  workspaced delete 8f14e45f 3`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runDelete,
}

// versionsCmd lists the version records of a project.
var versionsCmd = &cobra.Command{
	Use:   "versions <project-id>",
	Short: "List the version records of a project",
	Args:  cobra.ExactArgs(1),
	RunE:  runVersions,
}

// openProject loads a persisted manifest and binds a lifecycle store to it.
func openProject(ctx context.Context, rt *runtime, id string) (*project.Store, error) {
	doc, err := rt.docs.FindOne(ctx, rt.projectCfg.ProjectsCollection, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load project %s: %w", id, err)
	}
	return project.New(rt.projectCfg, manifest.Manifest(doc), rt.docs, rt.fsys, rt.logger)
}

// printResult renders an operation envelope as indented JSON. Failed
// operations become a non-zero exit through the returned error.
func printResult(result string, envelope any) error {
	out, err := json.MarshalIndent(envelope, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	if result == project.StatusFail {
		return fmt.Errorf("operation failed")
	}
	return nil
}

func runCreate(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read manifest file: %w", err)
	}
	var m manifest.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("failed to parse manifest file: %w", err)
	}

	store, err := project.New(rt.projectCfg, m, rt.docs, rt.fsys, rt.logger)
	if err != nil {
		return err
	}
	res := store.Save(cmd.Context(), "")
	return printResult(res.Result, res)
}

func runLaunch(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	store, err := openProject(cmd.Context(), rt, args[0])
	if err != nil {
		return err
	}
	res := store.Launch(cmd.Context(), launchWorkflow, launchVersion, launchNew)
	return printResult(res.Result, res)
}

func runExport(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	store, err := openProject(cmd.Context(), rt, args[0])
	if err != nil {
		return err
	}
	res := store.Export(cmd.Context(), exportVersion)
	return printResult(res.Result, res)
}

func runSave(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	store, err := openProject(cmd.Context(), rt, args[0])
	if err != nil {
		return err
	}
	res := store.Save(cmd.Context(), saveWorkspace)
	return printResult(res.Result, res)
}

func runSaveAs(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	store, err := openProject(cmd.Context(), rt, args[0])
	if err != nil {
		return err
	}
	res := store.SaveAs(cmd.Context(), args[1], saveWorkspace)
	return printResult(res.Result, res)
}

func runCopy(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	store, err := openProject(cmd.Context(), rt, args[0])
	if err != nil {
		return err
	}
	res := store.Copy(cmd.Context(), args[1], copyVersion)
	return printResult(res.Result, res)
}

func runDelete(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	store, err := openProject(cmd.Context(), rt, args[0])
	if err != nil {
		return err
	}

	if len(args) == 2 {
		number, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("version must be an integer, got %q", args[1])
		}
		res := store.DeleteVersion(cmd.Context(), number)
		return printResult(res.Result, res)
	}

	res := store.Delete(cmd.Context())
	return printResult(res.Result, res)
}

func runVersions(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	doc, err := rt.docs.FindOne(cmd.Context(), rt.projectCfg.ProjectsCollection, args[0])
	if err != nil {
		return fmt.Errorf("failed to load project %s: %w", args[0], err)
	}

	versions := manifest.Manifest(doc).Versions()

	type row struct {
		Number   int    `json:"version_number"`
		Name     string `json:"version_name"`
		Date     string `json:"version_date"`
		Workflow string `json:"version_workflow,omitempty"`
		Archived bool   `json:"archived"`
	}
	rows := make([]row, 0, len(versions))
	for _, v := range versions {
		rows = append(rows, row{
			Number:   v.Number,
			Name:     v.Name,
			Date:     v.Date,
			Workflow: v.Workflow,
			Archived: len(v.Zipfile) > 0,
		})
	}

	out, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
