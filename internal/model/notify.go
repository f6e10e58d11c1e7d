package model

// ContactMessage is a submission from the contact form.
type ContactMessage struct {
	Name    string `json:"name"`
	Surname string `json:"surname"`
	Email   string `json:"email"`
	Message string `json:"message"`
}
