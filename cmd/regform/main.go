// regform is a terminal client for the registration forms service:
// browse open forms, inspect one, fill in answers and submit.
//
//	regform -server http://localhost:8080 login -user jdoe
//	regform list
//	regform show 3
//	regform submit 3 -f 12=jdoe@example.edu -f 14=yes -a 15=transcript.pdf
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/studenthub/regforms/client"
	"github.com/studenthub/regforms/model"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "regform:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	server := os.Getenv("REGFORM_SERVER")
	token := os.Getenv("REGFORM_TOKEN")

	for len(args) > 0 && strings.HasPrefix(args[0], "-") {
		switch {
		case args[0] == "-server" && len(args) > 1:
			server, args = args[1], args[2:]
		case args[0] == "-token" && len(args) > 1:
			token, args = args[1], args[2:]
		default:
			return fmt.Errorf("unknown option %s", args[0])
		}
	}
	if server == "" {
		server = "http://localhost:8080"
	}
	if len(args) == 0 {
		return errors.New("usage: regform [-server url] [-token t] login|list|show|submit ...")
	}

	cmd, args := args[0], args[1:]
	if cmd == "login" {
		return login(server, args)
	}

	c, err := client.New(server, client.StaticToken(token),
		client.WithLoggedOutHandler(func() {
			fmt.Fprintln(os.Stderr, "regform: session expired, run 'regform login' again")
		}))
	if err != nil {
		return err
	}

	ctx := context.Background()
	switch cmd {
	case "list":
		return list(ctx, c)
	case "show":
		return show(ctx, c, args)
	case "submit":
		return submit(ctx, c, args)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func login(server string, args []string) error {
	user := ""
	for len(args) > 1 {
		if args[0] == "-user" {
			user, args = args[1], args[2:]
		} else {
			return fmt.Errorf("unknown option %s", args[0])
		}
	}
	if user == "" {
		return errors.New("usage: regform login -user <username>")
	}

	fmt.Fprint(os.Stderr, "Password: ")
	pass, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, server+"/api/login", nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(user, string(pass))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("login failed: %s", resp.Status)
	}

	tokens := struct {
		AccessToken string `json:"access_token"`
	}{}
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return err
	}

	fmt.Println("export REGFORM_TOKEN=" + tokens.AccessToken)
	return nil
}

func list(ctx context.Context, c *client.Client) error {
	formList, err := c.ListForms(ctx, 0, 50)
	if err != nil {
		return err
	}

	for _, f := range formList {
		closes := "no deadline"
		if !f.CloseDate.IsZero() {
			closes = "closes " + f.CloseDate.Format("2006-01-02 15:04")
		}
		fmt.Printf("%4d  %-40s  %-6s  %s\n", f.ID, f.Title, f.State, closes)
	}
	return nil
}

func show(ctx context.Context, c *client.Client, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: regform show <form-id>")
	}
	formID, err := strconv.Atoi(args[0])
	if err != nil {
		return err
	}

	session, err := c.LoadForm(ctx, formID)
	if err != nil {
		return err
	}

	fmt.Printf("%s (#%d)\n%s\n\n", session.Form.Title, session.Form.ID, session.Form.Description)
	if session.Status.Locked {
		fmt.Println("This form can no longer be edited.")
	} else if session.Status.TimeRemaining > 0 {
		fmt.Printf("Time remaining: %s\n", session.Status.TimeRemaining.Round(time.Minute))
	}
	if session.Status.Submitted {
		fmt.Printf("Submitted on %s\n", session.Submission.CreatedAt.Format("2006-01-02 15:04"))
	}
	fmt.Println()

	for _, f := range session.VisibleFields() {
		required := ""
		if f.Required {
			required = " (required)"
		}
		fmt.Printf("%4d  %s [%s]%s\n", f.ID, f.Label, f.Type, required)
		if len(f.Options) > 0 {
			fmt.Printf("      options: %s\n", strings.Join(f.Options, ", "))
		}
		if v, ok := session.Values[f.ID]; ok {
			fmt.Printf("      value: %v\n", v)
		}
	}
	return nil
}

func submit(ctx context.Context, c *client.Client, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: regform submit <form-id> [-f id=value]... [-a id=path]...")
	}
	formID, err := strconv.Atoi(args[0])
	if err != nil {
		return err
	}

	session, err := c.LoadForm(ctx, formID)
	if err != nil {
		return err
	}

	fieldTypes := map[int]model.FieldType{}
	for _, f := range session.Form.Fields {
		fieldTypes[f.ID] = f.Type
	}

	args = args[1:]
	for len(args) > 1 {
		opt := args[0]
		fieldID, arg, err := splitAssignment(args[1])
		if err != nil {
			return err
		}
		args = args[2:]

		switch opt {
		case "-f":
			if fieldTypes[fieldID].IsMulti() {
				err = session.Set(fieldID, strings.Split(arg, ","))
			} else {
				err = session.Set(fieldID, arg)
			}
		case "-a":
			var att model.Attachment
			att, err = readAttachment(arg)
			if err == nil {
				err = session.Attach(fieldID, att)
			}
		default:
			return fmt.Errorf("unknown option %s", opt)
		}
		if err != nil {
			return err
		}
	}

	err = session.Save(ctx)
	if errors.Is(err, client.ErrValidation) {
		ids := make([]int, 0, len(session.FieldErrors))
		for id := range session.FieldErrors {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		for _, id := range ids {
			fmt.Fprintf(os.Stderr, "field %d: %s\n", id, session.FieldErrors[id])
		}
		return err
	}
	if err != nil {
		return err
	}

	fmt.Printf("Submission #%d saved.\n", session.Submission.ID)
	return nil
}

func splitAssignment(arg string) (int, string, error) {
	key, value, found := strings.Cut(arg, "=")
	if !found {
		return 0, "", fmt.Errorf("expected id=value, got %q", arg)
	}
	id, err := strconv.Atoi(key)
	if err != nil {
		return 0, "", fmt.Errorf("expected numeric field id, got %q", key)
	}
	return id, value, nil
}

func readAttachment(path string) (model.Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Attachment{}, err
	}
	return model.Attachment{
		Name:        filepath.Base(path),
		ContentType: mime.TypeByExtension(filepath.Ext(path)),
		Data:        data,
	}, nil
}
