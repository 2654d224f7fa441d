package mailer

import (
	"html/template"
	"strings"

	"revista-press/internal/models"
)

var verificationTmpl = template.Must(template.New("verification").Parse(`<html>
<body>
<h2>Hello {{.Name}},</h2>
<p>Thanks for submitting your document. Please verify your email address by clicking the link below:</p>
<p><a href="{{.VerifyURL}}">Verify email</a></p>
<p>Or copy this link into your browser:</p>
<p>{{.VerifyURL}}</p>
<p>This link expires in 24 hours.</p>
<p>If you did not request this, you can ignore this message.</p>
</body>
</html>`))

var completedTmpl = template.Must(template.New("completed").Parse(`<html>
<body>
<h2>Hello {{.Name}},</h2>
<p>Your document <strong>{{.Filename}}</strong> has been processed successfully.</p>
<p>The download contains the LaTeX sources and the compiled PDF, ready for publication.</p>
<p><a href="{{.DownloadURL}}">Download the result</a></p>
<p>Or copy this link into your browser:</p>
<p>{{.DownloadURL}}</p>
<p>The files stay available for 30 days.</p>
</body>
</html>`))

var errorTmpl = template.Must(template.New("error").Parse(`<html>
<body>
<h2>Hello {{.Name}},</h2>
<p>There was an error while processing your document <strong>{{.Filename}}</strong>:</p>
<p style="color:red;">{{.ErrorMessage}}</p>
<p>Please try submitting the document again, or contact support.</p>
<p>You can check the job status here: <a href="{{.StatusURL}}">{{.StatusURL}}</a></p>
</body>
</html>`))

func renderVerification(name, verifyURL string) (string, error) {
	var b strings.Builder
	err := verificationTmpl.Execute(&b, struct {
		Name      string
		VerifyURL string
	}{name, verifyURL})
	return b.String(), err
}

func renderCompletion(n models.Notification, statusURL, downloadURL string) (string, error) {
	var b strings.Builder
	if n.Status == models.StatusError {
		msg := "unknown error"
		if n.ErrorMessage != nil && *n.ErrorMessage != "" {
			msg = *n.ErrorMessage
		}
		err := errorTmpl.Execute(&b, struct {
			Name, Filename, ErrorMessage, StatusURL string
		}{n.Name, n.FilenameOriginal, msg, statusURL})
		return b.String(), err
	}
	err := completedTmpl.Execute(&b, struct {
		Name, Filename, DownloadURL string
	}{n.Name, n.FilenameOriginal, downloadURL})
	return b.String(), err
}
