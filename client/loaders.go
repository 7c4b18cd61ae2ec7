package client

import (
	"context"
	"errors"
	"net/url"
	"sort"
	"strconv"

	"github.com/studenthub/regforms/model"
)

// ListForms fetches a page of available forms, newest opening first.
func (c *Client) ListForms(ctx context.Context, skip, limit int) ([]model.Form, error) {
	query := url.Values{
		"skip":  {strconv.Itoa(skip)},
		"limit": {strconv.Itoa(limit)},
	}

	var formList []model.Form
	err := c.get(ctx, "/api/registrations/forms", query, &formList)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(formList, func(i, j int) bool {
		return formList[i].OpenDate.After(formList[j].OpenDate)
	})
	return formList, nil
}

// GetForm fetches one form definition with its fields.
func (c *Client) GetForm(ctx context.Context, formID int) (model.Form, error) {
	var form model.Form
	err := c.get(ctx, "/api/registrations/forms/"+strconv.Itoa(formID), nil, &form)
	return form, err
}

// GetSubmission fetches the student's own submission for a form. A nil
// submission with nil error means they have not submitted yet.
func (c *Client) GetSubmission(ctx context.Context, formID int) (*model.Submission, error) {
	var sub model.Submission
	err := c.get(ctx, "/api/registrations/forms/"+strconv.Itoa(formID)+"/submission", nil, &sub)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// LoadForm opens a form for editing. The definition and any existing
// submission are fetched concurrently; a failed submission fetch is
// treated as "no submission yet" and does not fail the load.
func (c *Client) LoadForm(ctx context.Context, formID int) (*Session, error) {
	subCh := make(chan *model.Submission, 1)
	go func() {
		sub, err := c.GetSubmission(ctx, formID)
		if err != nil {
			subCh <- nil
			return
		}
		subCh <- sub
	}()

	form, err := c.GetForm(ctx, formID)
	sub := <-subCh
	if err != nil {
		return nil, err
	}

	return newSession(c, form, sub), nil
}
