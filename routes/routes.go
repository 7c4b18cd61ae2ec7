package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/studenthub/regforms/app"
	"github.com/studenthub/regforms/routes/middlewares"
)

func Wire(app app.App) http.Handler {
	root := chi.NewRouter()
	root.Use(middleware.Logger, middleware.Recoverer)

	root.Mount("/api", apiRouter(app))

	return root
}

func apiRouter(app app.App) http.Handler {
	api := chi.NewRouter()

	api.Route("/registrations", func(r chi.Router) {
		r.Use(middlewares.Authenticated(app.TokenSecret))

		r.Get("/forms", ListOpenForms(app))
		r.Get(`/forms/{id:^\d+$}`, StudentGetForm(app))
		r.Get(`/forms/{id:^\d+$}/submission`, StudentGetSubmission(app))
		r.Post(`/forms/{id:^\d+$}/submit`, SubmitForm(app))
		r.Put(`/forms/{id:^\d+$}/submission`, UpdateSubmission(app))
	})

	api.Route("/admin", func(r chi.Router) {
		r.Use(middlewares.Admin(app.TokenSecret))

		// CRUD forms
		r.Post("/forms", CreateForm(app))
		r.Get("/forms", ListForms(app))
		r.Get(`/forms/{id:^\d+$}`, GetFormById(app))
		r.Put(`/forms/{id:^\d+$}`, UpdateForm(app))
		r.Delete(`/forms/{id:^\d+$}`, DeleteForm(app))

		r.Get(`/forms/{id:^\d+$}/submissions`, GetFormSubmissions(app))
		r.Put(`/submissions/{id:^\d+$}/lock`, LockSubmission(app))
	})

	api.Post("/login", Login(app))
	api.Post("/refresh", Refresh(app))

	return api
}
