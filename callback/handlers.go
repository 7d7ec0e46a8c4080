package callback

import (
	"fmt"
	"html"
	"net/http"
)

// CallbackHandler hands the callback parameters to the Handler, renders the outcome and
// publishes it. Query and form_post parameters are both accepted.
func (s *Server) CallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			s.writeErrorPage(w, http.StatusBadRequest, err)
			s.publish(Result{Err: err})
			return
		}

		result, err := s.handler.HandleCallback(r.Context(), r.Form)
		if err != nil {
			s.writeErrorPage(w, http.StatusBadRequest, err)
			s.publish(Result{Err: err})
			return
		}
		s.writeSuccessPage(w)
		s.publish(Result{Auth: result})
	}
}

func (s *Server) IndexHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		s.write(w, indexPage)
	}
}

func (s *Server) writeSuccessPage(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	s.write(w, successPage)
}

func (s *Server) writeErrorPage(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	s.write(w, fmt.Sprintf(errorPage, html.EscapeString(err.Error())))
}

func (s *Server) write(w http.ResponseWriter, page string) {
	if _, err := w.Write([]byte(page)); err != nil {
		s.logger.Warn().Err(err).Msg("failed to write callback page")
	}
}

const indexPage = `<!DOCTYPE html>
<html>
<head><title>Sign in</title></head>
<body>
<h1>Waiting for sign in</h1>
<p>Complete the sign in in your browser. This page only receives the redirect back.</p>
</body>
</html>`

const successPage = `<!DOCTYPE html>
<html>
<head><title>Signed in</title></head>
<body>
<h1>Signed in</h1>
<p>You can close this window and return to the terminal.</p>
</body>
</html>`

const errorPage = `<!DOCTYPE html>
<html>
<head><title>Sign in failed</title></head>
<body>
<h1>Sign in failed</h1>
<p>%s</p>
</body>
</html>`
