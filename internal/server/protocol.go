package server

import (
	"github.com/playhistoric/chronoquiz/internal/chronoquiz"
	"github.com/playhistoric/chronoquiz/internal/sm2"
)

// clientMessage is the inbound envelope. One JSON object per frame; the
// type tag decides which fields are meaningful.
type clientMessage struct {
	Type        string  `json:"type"`
	CategoryKey string  `json:"categoryKey,omitempty"`
	Ready       bool    `json:"ready,omitempty"`
	ToUserID    string  `json:"toUserId,omitempty"`
	FromUserID  string  `json:"fromUserId,omitempty"`
	Accept      bool    `json:"accept,omitempty"`
	GuessLat    float64 `json:"guessLat,omitempty"`
	GuessLng    float64 `json:"guessLng,omitempty"`
	GuessYear   int     `json:"guessYear,omitempty"`
	TimeLeft    float64 `json:"timeLeft,omitempty"`
}

type lobbyPlayerInfo struct {
	UserID    string `json:"userId,omitempty"`
	Username  string `json:"username"`
	Elo       int    `json:"elo"`
	IsGuest   bool   `json:"isGuest"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	Ready     bool   `json:"ready"`
}

type lobbyJoinedMsg struct {
	Type        string   `json:"type"`
	CategoryKey string   `json:"categoryKey"`
	You         Identity `json:"you"`
}

type lobbyPlayersMsg struct {
	Type       string            `json:"type"`
	Players    []lobbyPlayerInfo `json:"players"`
	ReadyCount int               `json:"readyCount"`
	TotalCount int               `json:"totalCount"`
}

type readyStatusMsg struct {
	Type     string `json:"type"`
	UserID   string `json:"userId,omitempty"`
	Username string `json:"username"`
	Ready    bool   `json:"ready"`
}

type inviteParty struct {
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	Elo       int    `json:"elo,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

type gameInviteMsg struct {
	Type string      `json:"type"`
	From inviteParty `json:"from"`
}

type inviteSentMsg struct {
	Type string      `json:"type"`
	To   inviteParty `json:"to"`
}

type inviteDeclinedMsg struct {
	Type string      `json:"type"`
	By   inviteParty `json:"by"`
}

type matchFoundMsg struct {
	Type        string          `json:"type"`
	MatchID     string          `json:"matchId"`
	CategoryKey string          `json:"categoryKey"`
	Opponent    lobbyPlayerInfo `json:"opponent"`
}

type gameStartingMsg struct {
	Type        string `json:"type"`
	MatchID     string `json:"matchId"`
	CategoryKey string `json:"categoryKey"`
}

type prepareRoundMsg struct {
	Type  string           `json:"type"`
	Round int              `json:"round"`
	Event chronoquiz.Event `json:"event"`
}

type roundStartMsg struct {
	Type  string `json:"type"`
	Round int    `json:"round"`
}

type answerReceivedMsg struct {
	Type       string `json:"type"`
	RoundScore int    `json:"roundScore"`
	TotalScore int    `json:"totalScore"`
	Distance   int    `json:"distance"`
	YearError  int    `json:"yearError"`
}

type roundGuess struct {
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
	Year int     `json:"year"`
}

type playerRoundResult struct {
	PlayerID   string     `json:"playerId"`
	PlayerName string     `json:"playerName"`
	TotalScore int        `json:"totalScore"`
	RoundScore int        `json:"roundScore"`
	Guess      roundGuess `json:"guess"`
	Distance   int        `json:"distance"`
	YearError  int        `json:"yearError"`
}

type roundResultsMsg struct {
	Type          string              `json:"type"`
	Round         int                 `json:"round"`
	Results       []playerRoundResult `json:"results"`
	CorrectAnswer chronoquiz.Event    `json:"correctAnswer"`
}

type finalScore struct {
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
	UserID     string `json:"userId,omitempty"`
	TotalScore int    `json:"totalScore"`
	EloChange  *int   `json:"eloChange,omitempty"`
	NewElo     *int   `json:"newElo,omitempty"`
}

type gameOverMsg struct {
	Type              string       `json:"type"`
	FinalScores       []finalScore `json:"finalScores"`
	TerminationReason string       `json:"terminationReason"`
}

type pongMsg struct {
	Type string `json:"type"`
}

type categoryInfo struct {
	Key         string     `json:"key"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	MapCenter   [2]float64 `json:"mapCenter"`
	MapZoom     int        `json:"mapZoom"`
	TimelineMin int        `json:"timelineMin"`
	TimelineMax int        `json:"timelineMax"`
}

type learningStats struct {
	TotalEvents  int `json:"totalEvents"`
	Seen         int `json:"seen"`
	Mastered     int `json:"mastered"`
	Due          int `json:"due"`
	Learnedness  int `json:"learnedness"`
	NewToday     int `json:"newToday,omitempty"`
	TotalReviews int `json:"totalReviews,omitempty"`
}

type learningStartedMsg struct {
	Type     string        `json:"type"`
	Category categoryInfo  `json:"category"`
	Stats    learningStats `json:"stats"`
}

// learningEventMsg deliberately withholds the event's coordinates and
// year; they are revealed only in the matching learning_result.
type learningEventMsg struct {
	Type        string          `json:"type"`
	EventName   string          `json:"eventName"`
	Category    categoryInfo    `json:"category"`
	Learnedness sm2.Learnedness `json:"learnedness"`
	Attempts    int             `json:"attempts"`
	Repetitions int             `json:"repetitions"`
}

type learningResultMsg struct {
	Type         string           `json:"type"`
	Event        chronoquiz.Event `json:"event"`
	DistanceKm   float64          `json:"distanceKm"`
	YearError    int              `json:"yearError"`
	Quality      int              `json:"quality"`
	Learnedness  sm2.Learnedness  `json:"learnedness"`
	NextReview   string           `json:"nextReview"`
	IntervalDays int              `json:"intervalDays"`
	Repetitions  int              `json:"repetitions"`
	Stats        learningStats    `json:"stats"`
}

type errorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func protocolError(message string) errorMsg {
	return errorMsg{Type: "error", Message: message}
}
