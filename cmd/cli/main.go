package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/jakechorley/cohort-grader/internal/config"
	"github.com/jakechorley/cohort-grader/pkg/applicants"
	"github.com/jakechorley/cohort-grader/pkg/core/formula"
	"github.com/jakechorley/cohort-grader/pkg/core/rating"
	"github.com/jakechorley/cohort-grader/pkg/core/services"
	"github.com/jakechorley/cohort-grader/pkg/utils/logging"
)

// ratingCategories are the skill categories carrying a rating table.
var ratingCategories = []string{"programming", "open_source", "python"}

// App holds the application dependencies
type App struct {
	cfg          *config.Config
	configPath   string
	applications []*applicants.Applicant
	logger       *zap.Logger
	identity     int
	stdin        *bufio.Reader
	modified     bool
}

var (
	configPath       string
	applicationsPath string
	identity         int
	app              *App
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "grader",
		Short: "Cohort grader - rank applicants and build balanced groups",
		Long: `A CLI tool for grading program applications: rate free-text skill
labels, grade motivation and CV statements, rank applicants with a
configurable formula, and split the confirmed cohort into balanced groups.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initApp()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if app != nil && app.logger != nil {
				app.logger.Sync()
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "grader.yaml", "Path to the grading config file")
	rootCmd.PersistentFlags().StringVarP(&applicationsPath, "applications", "a", "applications.csv", "Path to the applications CSV export")
	rootCmd.PersistentFlags().IntVarP(&identity, "identity", "i", -1, "Index of the person grading applications (0 or 1)")

	rootCmd.AddCommand(dumpCmd())
	rootCmd.AddCommand(grepCmd())
	rootCmd.AddCommand(rateCmd())
	rootCmd.AddCommand(gradeCmd())
	rootCmd.AddCommand(rankCmd())
	rootCmd.AddCommand(equivCmd())
	rootCmd.AddCommand(groupsCmd())
	rootCmd.AddCommand(writeCmd())
	rootCmd.AddCommand(saveCmd())
	rootCmd.AddCommand(interactiveCmd())

	err := rootCmd.Execute()

	// Unsaved grading work should never be lost silently.
	if app != nil && app.modified {
		rescueUnsavedChanges()
	}

	if err != nil {
		os.Exit(1)
	}
}

// initApp sets up logger, config and the parsed applications
func initApp() error {
	if app != nil {
		return nil
	}

	logger, err := logging.InitLogger()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("Loading configuration", zap.String("path", configPath))
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger.Info("Loading applications", zap.String("path", applicationsPath))
	f, err := os.Open(applicationsPath)
	if err != nil {
		return fmt.Errorf("failed to open applications file: %w", err)
	}
	defer f.Close()

	apps, err := applicants.ParseCSV(f)
	if err != nil {
		return fmt.Errorf("failed to parse applications: %w", err)
	}
	logger.Info("Applications loaded", zap.Int("count", len(apps)))

	app = &App{
		cfg:          cfg,
		configPath:   configPath,
		applications: apps,
		logger:       logger,
		identity:     identity,
		stdin:        bufio.NewReader(os.Stdin),
	}
	return nil
}

func rescueUnsavedChanges() {
	tmp, err := os.CreateTemp("", "grader-*.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "unsaved changes could not be rescued: %v\n", err)
		return
	}
	tmp.Close()
	if err := app.cfg.Save(tmp.Name()); err != nil {
		fmt.Fprintf(os.Stderr, "unsaved changes could not be rescued: %v\n", err)
		return
	}
	fmt.Printf("Unsaved changes written to %s - move them back with 'save'\n", tmp.Name())
}

// Command definitions

func dumpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump [name fragment...]",
		Short: "Print information about applications",
		RunE: func(cmd *cobra.Command, args []string) error {
			long, _ := cmd.Flags().GetBool("long")
			ranked, _ := cmd.Flags().GetBool("ranked")

			persons := app.applications
			if len(args) > 0 {
				persons = filterByName(persons, args)
			}
			if ranked {
				if !anyRanked(app.applications) {
					if _, err := services.RankApplicants(app.cfg, app.applications, app.logger); err != nil {
						return err
					}
				}
				persons = sortedByRank(persons)
			}
			for _, p := range persons {
				dumpOne(p, long)
			}
			return nil
		},
	}
	cmd.Flags().BoolP("long", "l", false, "Do not truncate free texts")
	cmd.Flags().BoolP("ranked", "r", false, "Print applications sorted by rank")
	return cmd
}

func grepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grep <text>",
		Short: "Look for a string in applications",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			long, _ := cmd.Flags().GetBool("long")
			needle := strings.Join(args, " ")
			for _, p := range app.applications {
				if applicantContains(p, needle) {
					dumpOne(p, long)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolP("long", "l", false, "Do not truncate free texts")
	return cmd
}

func rateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rate [category [label... value]]",
		Short: "Show rating tables or set a rating",
		RunE: func(cmd *cobra.Command, args []string) error {
			missing, _ := cmd.Flags().GetBool("missing")
			if missing && len(args) > 1 {
				return fmt.Errorf("cannot use --missing together with a value")
			}

			categories := ratingCategories
			if len(args) > 0 {
				category := args[0]
				if _, ok := app.cfg.RatingTable(category); !ok {
					return fmt.Errorf("unknown rating category %q", category)
				}
				categories = []string{category}
			}

			if len(args) > 2 {
				// rate <category> <label...> <value>
				value, err := strconv.ParseFloat(args[len(args)-1], 64)
				if err != nil {
					return fmt.Errorf("rating value must be a number: %w", err)
				}
				label := strings.Join(args[1:len(args)-1], " ")
				if err := app.cfg.SetRating(args[0], label, value); err != nil {
					return err
				}
				app.modified = true
				return nil
			}

			for _, category := range categories {
				if len(categories) > 1 {
					fmt.Printf("== %s ==\n", category)
				}
				table, _ := app.cfg.RatingTable(category)
				printTableSorted(table)
				if missing {
					if err := rateMissing(category, table); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolP("missing", "m", false, "Prompt for all labels without a rating")
	return cmd
}

// rateMissing prompts for every label used in the applications that has
// no entry in the category's table yet.
func rateMissing(category string, table rating.Table) error {
	used := map[string]bool{}
	for _, p := range app.applications {
		used[strings.ToLower(applicantRatingLabel(p, category))] = true
	}
	labels := make([]string, 0, len(used))
	for label := range used {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	for _, label := range labels {
		_, err := rating.Resolve(category, table, label)
		var missing *rating.MissingRatingError
		if err == nil {
			continue
		} else if !errors.As(err, &missing) {
			return err
		}
		fmt.Printf("%s = ", label)
		line, err := app.stdin.ReadString('\n')
		if err != nil {
			return fmt.Errorf("aborted: %w", err)
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(line), 64)
		if err != nil {
			return fmt.Errorf("rating value must be a number: %w", err)
		}
		if err := app.cfg.SetRating(category, missing.Key, value); err != nil {
			return err
		}
		app.modified = true
	}
	return nil
}

func gradeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grade <motivation|cv|formula> [args...]",
		Short: "Grade motivation or CV statements, or set the formula",
		Long: `Assign points to motivation or CV statements, or set the formula.

The formula is set with:
  grade formula <expression>
where the expression may use the variables born, gender, female, nation,
country, motivation, cv, programming, open_source, python and applied.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			graded, _ := cmd.Flags().GetBool("graded")
			what := args[0]

			if what == "formula" {
				return gradeFormula(args[1:])
			}
			if what != "motivation" && what != "cv" {
				return fmt.Errorf("cannot grade %q: choose motivation, cv or formula", what)
			}
			if app.identity != 0 && app.identity != 1 {
				return fmt.Errorf("cannot grade because identity was not set (use --identity)")
			}
			if graded && len(args) > 1 {
				return fmt.Errorf("cannot use --graded with an explicit name")
			}
			return gradeStatements(what, strings.Join(args[1:], " "), graded)
		},
	}
	cmd.Flags().BoolP("graded", "g", false, "Grade already graded applications too")
	return cmd
}

func gradeFormula(args []string) error {
	if len(args) > 0 {
		if err := app.cfg.SetFormula(strings.Join(args, " ")); err != nil {
			return err
		}
		app.modified = true
	}

	f, err := app.cfg.CompiledFormula()
	if err != nil {
		return err
	}
	minScore, maxScore, err := formula.Bounds(f, app.cfg.Ratings.Tables(), app.cfg.HostCountry)
	if err != nil {
		return err
	}
	fmt.Printf("formula = %s\n", f.Source())
	fmt.Printf("score ∈ [%6.3f,%6.3f]\n", minScore, maxScore)
	return nil
}

func gradeStatements(what, fullName string, includeGraded bool) error {
	var todo []*applicants.Applicant
	for _, p := range app.applications {
		if fullName != "" {
			if p.FullName() == fullName {
				todo = append(todo, p)
			}
			continue
		}
		_, alreadyGraded := app.cfg.Grade(what, app.identity, p.FullName())
		if includeGraded || !alreadyGraded {
			todo = append(todo, p)
		}
	}

	fmt.Printf("Doing grading for identity %d\n", app.identity)
	fmt.Println("Press ^D to stop")
	doneAlready := len(app.applications) - len(todo)
	for num, person := range todo {
		fmt.Printf("%.2f%% done, %d left to go\n",
			100*float64(num+doneAlready)/float64(len(app.applications)),
			len(todo)-num)
		ok, err := gradeOne(person, what)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
	}
	return nil
}

// gradeOne shows one statement and records the reviewer's choice.
// Returns false when the reviewer ends the session.
func gradeOne(person *applicants.Applicant, what string) (bool, error) {
	text := person.Motivation
	if what == "cv" {
		text = person.CV
	}

	oldGrade, hasOld := app.cfg.Grade(what, app.identity, person.FullName())
	defaultChoice := ""
	if hasOld {
		defaultChoice = strconv.Itoa(int(oldGrade))
	}

	line := strings.Repeat("-", 70)
	fmt.Printf("%s\n%s\n%s\n", line, wrapText(text, 70), line)
	if hasOld {
		fmt.Printf("Old score was %g\n", oldGrade)
	} else {
		fmt.Println("Old score was -")
	}

	for {
		fmt.Printf("Your choice %v [%s]? ", formula.ScoreRange, defaultChoice)
		input, err := app.stdin.ReadString('\n')
		if err != nil {
			fmt.Println()
			return false, nil
		}
		choice := strings.TrimSpace(input)

		switch choice {
		case "s":
			fmt.Println("person skipped")
			return true, nil
		case "d":
			fmt.Println("showing person on request")
			dumpOne(person, true)
			continue
		case "":
			choice = defaultChoice
		case "+":
			choice = strconv.Itoa(int(formula.ScoreRange[len(formula.ScoreRange)-1]))
		case "-":
			choice = strconv.Itoa(int(formula.ScoreRange[0]))
		}

		grade, err := strconv.Atoi(choice)
		if err != nil || !validGrade(grade) {
			fmt.Printf("illegal value: %s\n", choice)
			continue
		}
		if !hasOld || float64(grade) != oldGrade {
			app.cfg.SetGrade(what, app.identity, person.FullName(), float64(grade))
			fmt.Printf("%s score set to %d\n", what, grade)
			app.modified = true
		}
		return true, nil
	}
}

func validGrade(grade int) bool {
	for _, allowed := range formula.ScoreRange {
		if float64(grade) == allowed {
			return true
		}
	}
	return false
}

func rankCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rank",
		Short: "Print the list of applicants sorted by ranking",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			short, _ := cmd.Flags().GetBool("short")

			outcome, err := services.RankApplicants(app.cfg, app.applications, app.logger)
			if err != nil {
				return err
			}

			nameWidth, emailWidth := 0, 0
			for _, p := range outcome.Ranked {
				nameWidth = max(nameWidth, len(p.FullName()))
				emailWidth = max(emailWidth, len(p.Email)+2)
			}

			for pos, p := range outcome.Ranked {
				if p.Rank == outcome.AcceptCount {
					fmt.Println(strings.Repeat("-", 70))
				}
				if short {
					fmt.Printf("%4d %4d %6.3f %-*s %-*s\n",
						pos, p.Rank, p.Score,
						nameWidth, p.FullName(),
						emailWidth, "<"+p.Email+">")
				} else {
					fmt.Printf("%4d %4d %6.3f %-*s %-*s %s / %s\n",
						pos, p.Rank, p.Score,
						nameWidth, p.FullName(),
						emailWidth, "<"+p.Email+">",
						p.Institute, p.Group)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolP("short", "s", false, "Show only names and emails")
	return cmd
}

func equivCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "equiv [variant = spelling [= spelling...]]",
		Short: "Mark institute or lab spellings as equivalent",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				for _, key := range sortedKeys(app.cfg.Equivalences) {
					fmt.Printf("%s = %s\n", key, strings.Join(app.cfg.Equivalences[key], " = "))
				}
				return nil
			}

			parts := strings.Split(strings.Join(args, " "), "=")
			if len(parts) < 2 {
				return fmt.Errorf("usage: equiv <canonical> = <spelling> [= <spelling>...]")
			}
			key := strings.TrimSpace(parts[0])
			for _, spelling := range parts[1:] {
				app.cfg.Equivalences.Add(key, strings.TrimSpace(spelling))
			}
			app.modified = true
			return nil
		},
	}
}

func groupsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "groups",
		Short: "Split the confirmed participants into balanced groups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := services.CreateGroups(app.cfg, app.applications, app.logger)
			if err != nil {
				return err
			}
			printGroupsReport(report)
			return nil
		},
	}
}

func printGroupsReport(report *services.GroupsReport) {
	result := report.Result

	fmt.Println("initial energy of all trials:")
	fmt.Printf("mean: %.4f, std: %.4f\n", result.InitialMean, result.InitialStdDev)
	fmt.Println("final energy of all trials:")
	fmt.Printf("mean: %.4f, std: %.4f\n", result.FinalMean, result.FinalStdDev)

	fmt.Println("optimal group distribution:")
	fmt.Printf("energy: %.4f\n", result.Best.FinalEnergy)

	averages := report.GroupAverages()
	for g, members := range report.Members {
		fmt.Println("#########################")
		fmt.Printf("Group %d:\n", g)
		for _, member := range members {
			fmt.Printf("  %s\n", member.FullName())
		}
		fmt.Printf("Group average: %s\n", formatRow(averages[g]))
	}
	fmt.Println("#########################")
	fmt.Printf("Features:        %s\n", strings.Join(report.Matrix.Features, ", "))
	fmt.Printf("Target averages: %s\n", formatRow(report.TargetAverages()))
}

func writeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "write",
		Short: "Write the mail-merge recipient lists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			outcome, err := services.RankApplicants(app.cfg, app.applications, app.logger)
			if err != nil {
				return err
			}
			fmt.Printf("accepting %d\n", outcome.AcceptCount)

			paths, err := services.WriteRecipientLists(outcome, ".", app.logger)
			if err != nil {
				return err
			}
			for _, path := range paths {
				fmt.Printf("'%s' written\n", path)
			}
			return nil
		},
	}
}

func saveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "save [filename]",
		Short: "Save the fruits of thy labour",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := app.configPath
			if len(args) > 0 {
				path = args[0]
			}
			if err := app.cfg.Save(path); err != nil {
				return err
			}
			app.modified = false
			fmt.Printf("'%s' saved\n", path)
			return nil
		},
	}
}

func interactiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "interactive",
		Short: "Start an interactive grading session",
		Long: `Start an interactive session where you can run multiple commands
without reloading the config and applications each time.

Type 'help' to see available commands, 'exit' or 'quit' to leave.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("Starting interactive session...")
			fmt.Println("Type 'help' for available commands, 'exit' or 'quit' to leave")

			commands := map[string]*cobra.Command{}
			for _, subCmd := range cmd.Parent().Commands() {
				switch subCmd.Name() {
				case "interactive", "completion", "help":
					continue
				}
				commands[subCmd.Name()] = subCmd
			}

			// Reads go through app.stdin, the same reader the rate and
			// grade prompts use, so piped input is not swallowed by a
			// second buffer's read-ahead.
			for {
				fmt.Print("grader> ")
				line, readErr := app.stdin.ReadString('\n')

				if parts := strings.Fields(line); len(parts) > 0 {
					cmdName, cmdArgs := parts[0], parts[1:]
					switch {
					case cmdName == "exit" || cmdName == "quit":
						return nil
					case cmdName == "help":
						printInteractiveHelp(commands)
					default:
						targetCmd, exists := commands[cmdName]
						if !exists {
							fmt.Printf("unknown command: %s (type 'help' for available commands)\n", cmdName)
							break
						}
						runInteractive(targetCmd, cmdArgs)
					}
				}

				if readErr != nil {
					if errors.Is(readErr, io.EOF) {
						fmt.Println()
						return nil
					}
					return readErr
				}
			}
		},
	}
}

// runInteractive executes a sibling command directly, bypassing the full
// Execute() flow so PersistentPreRunE does not reload everything.
func runInteractive(cmd *cobra.Command, args []string) {
	cmd.Flags().VisitAll(func(flag *pflag.Flag) {
		flag.Changed = false
		flag.Value.Set(flag.DefValue)
	})
	if err := cmd.ParseFlags(args); err != nil {
		fmt.Printf("error parsing flags: %v\n", err)
		return
	}
	args = cmd.Flags().Args()
	if err := cmd.Args(cmd, args); err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	if err := cmd.RunE(cmd, args); err != nil {
		fmt.Printf("error: %v\n", err)
	}
}

func printInteractiveHelp(commands map[string]*cobra.Command) {
	fmt.Println("\nAvailable commands:")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %-40s %s\n", commands[name].Use, commands[name].Short)
	}
	fmt.Println("\n  help                                     Show this help message")
	fmt.Println("  exit, quit                               Exit the interactive session")
}
