package models

// UserSession is the resolved caller identity attached to a request.
type UserSession struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Admin    bool   `json:"admin"`
}

// RegisterRequest is the body of POST /api/users.
type RegisterRequest struct {
	Name     string `json:"name"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginRequest is the body of POST /api/auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// PostCurseRequest is the body of POST /api/curses.
type PostCurseRequest struct {
	Curse string `json:"curse"`
}

// BlessRequest is the body of PATCH /api/curses.
type BlessRequest struct {
	CurseID    int64 `json:"curse_id"`
	BlessingID int   `json:"blessing_id"`
}

// DeleteCurseRequest is the body of DELETE /api/curses.
type DeleteCurseRequest struct {
	CurseID int64 `json:"curse_id"`
}

// BlockRequest is the body of PATCH /api/users.
type BlockRequest struct {
	CurseID int64 `json:"curse_id"`
}
