package render

import (
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/tjfontaine/offer-benchmark-agent/internal/domain"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// IdentityForm is the single name field shown with identity-form.
type IdentityForm struct {
	Name string `json:"name" validate:"required,max=200"`
}

// LinkForm is the URL half of the source form.
type LinkForm struct {
	URL string `json:"url" validate:"required,max=2048"`
}

// FileForm is the file-chooser half of the source form. Only the file name
// is kept; contents are never read.
type FileForm struct {
	FileName string `json:"file_name" validate:"required,max=255"`
}

// CustomPeerForm is the add-custom-peer sub-form of the peer picker.
type CustomPeerForm struct {
	Name      string `json:"name" validate:"required,max=200"`
	Reference string `json:"reference" validate:"required,max=2048"`
}

// Composer is the plain text box.
type Composer struct {
	Text string `json:"text" validate:"required,max=4000"`
}

// Input normalizes the form into an identity submission.
func (f IdentityForm) Input() (domain.Input, error) {
	f.Name = strings.TrimSpace(f.Name)
	if err := check(f); err != nil {
		return domain.Input{}, err
	}
	return domain.IdentitySubmission(f.Name), nil
}

// Input normalizes the form into a link submission.
func (f LinkForm) Input() (domain.Input, error) {
	f.URL = strings.TrimSpace(f.URL)
	if err := check(f); err != nil {
		return domain.Input{}, err
	}
	return domain.LinkSubmission(f.URL), nil
}

// Input normalizes the form into a file submission carrying the base name.
func (f FileForm) Input() (domain.Input, error) {
	f.FileName = BaseName(f.FileName)
	if err := check(f); err != nil {
		return domain.Input{}, err
	}
	return domain.FileSubmission(f.FileName), nil
}

// Input normalizes the form into a custom peer submission.
func (f CustomPeerForm) Input() (domain.Input, error) {
	f.Name = strings.TrimSpace(f.Name)
	f.Reference = strings.TrimSpace(f.Reference)
	if err := check(f); err != nil {
		return domain.Input{}, err
	}
	return domain.CustomPeerSubmission(f.Name, f.Reference), nil
}

// Input normalizes the composer into free text.
func (f Composer) Input() (domain.Input, error) {
	f.Text = strings.TrimSpace(f.Text)
	if err := check(f); err != nil {
		return domain.Input{}, err
	}
	return domain.TextInput(f.Text), nil
}

// QuickReply accepts choice only if the latest assistant turn offers it.
func QuickReply(latest domain.Turn, choice string) (domain.Input, error) {
	if !slices.Contains(latest.QuickReplies, choice) {
		return domain.Input{}, fmt.Errorf("%w: %q is not an offered quick reply", domain.ErrUnexpectedInput, choice)
	}
	return domain.QuickReplyInput(choice), nil
}

// BaseName strips any directory from an uploaded file name, including the
// Windows-style paths some browsers report.
func BaseName(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, `\`, "/"))
	if name == "" {
		return ""
	}
	base := path.Base(name)
	if base == "." || base == "/" {
		return ""
	}
	return base
}

func check(form any) error {
	err := validate.Struct(form)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", domain.ErrInvalidSubmission, err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", domain.ErrInvalidSubmission, strings.Join(fields, ", "))
}
