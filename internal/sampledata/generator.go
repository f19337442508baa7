// Package sampledata generates a small synthetic NFL dataset with the same
// table and column names as the real one, for local development and demos.
package sampledata

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

var teamCodes = []string{
	"BUF", "MIA", "NE", "NYJ", "BAL", "CIN", "CLE", "PIT",
	"HOU", "IND", "JAX", "TEN", "DEN", "KC", "LV", "LAC",
	"DAL", "NYG", "PHI", "WAS", "CHI", "DET", "GB", "MIN",
	"ATL", "CAR", "NO", "TB", "ARI", "LA", "SF", "SEA",
}

var firstNames = []string{"Aaron", "Brandon", "Calvin", "Derek", "Justin", "Kyle", "Marcus", "Patrick", "Russell", "Tyler"}

var lastNames = []string{
	"Allen", "Brown", "Carter", "Davis", "Evans", "Foster", "Garcia", "Harris",
	"Jackson", "Johnson", "Kelly", "Lewis", "Moore", "Nelson", "Owens", "Parker",
	"Reed", "Smith", "Taylor", "Walker", "White", "Williams", "Young", "Zimmer",
}

type Player struct {
	GSISID    string `parquet:"gsis_id"`
	Name      string `parquet:"name"`
	ShortName string `parquet:"short_name"`
	Position  string `parquet:"position"`
	Team      string `parquet:"team"`
}

type Play struct {
	PlayID             int64   `parquet:"play_id"`
	GameID             string  `parquet:"game_id"`
	Season             int64   `parquet:"season"`
	Week               int64   `parquet:"week"`
	SeasonType         string  `parquet:"season_type"`
	PosTeam            string  `parquet:"posteam"`
	DefTeam            string  `parquet:"defteam"`
	Down               int64   `parquet:"down"`
	YdsToGo            int64   `parquet:"ydstogo"`
	PlayType           string  `parquet:"play_type"`
	YardsGained        int64   `parquet:"yards_gained"`
	PasserPlayerID     string  `parquet:"passer_player_id"`
	PasserPlayerName   string  `parquet:"passer_player_name"`
	ReceiverPlayerID   string  `parquet:"receiver_player_id"`
	ReceiverPlayerName string  `parquet:"receiver_player_name"`
	RusherPlayerID     string  `parquet:"rusher_player_id"`
	RusherPlayerName   string  `parquet:"rusher_player_name"`
	PassingYards       int64   `parquet:"passing_yards"`
	ReceivingYards     int64   `parquet:"receiving_yards"`
	RushingYards       int64   `parquet:"rushing_yards"`
	CompletePass       int64   `parquet:"complete_pass"`
	IncompletePass     int64   `parquet:"incomplete_pass"`
	Touchdown          int64   `parquet:"touchdown"`
	Interception       int64   `parquet:"interception"`
	Sack               int64   `parquet:"sack"`
	EPA                float64 `parquet:"epa"`
	Desc               string  `parquet:"desc"`
}

type WeeklyStat struct {
	PlayerID         string  `parquet:"player_id"`
	PlayerName       string  `parquet:"player_name"`
	Position         string  `parquet:"position"`
	RecentTeam       string  `parquet:"recent_team"`
	Season           int64   `parquet:"season"`
	Week             int64   `parquet:"week"`
	SeasonType       string  `parquet:"season_type"`
	Completions      int64   `parquet:"completions"`
	Attempts         int64   `parquet:"attempts"`
	PassingYards     int64   `parquet:"passing_yards"`
	PassingTDs       int64   `parquet:"passing_tds"`
	Interceptions    int64   `parquet:"interceptions"`
	Sacks            int64   `parquet:"sacks"`
	Carries          int64   `parquet:"carries"`
	RushingYards     int64   `parquet:"rushing_yards"`
	RushingTDs       int64   `parquet:"rushing_tds"`
	Receptions       int64   `parquet:"receptions"`
	Targets          int64   `parquet:"targets"`
	ReceivingYards   int64   `parquet:"receiving_yards"`
	ReceivingTDs     int64   `parquet:"receiving_tds"`
	FantasyPointsPPR float64 `parquet:"fantasy_points_ppr"`
}

type Dataset struct {
	Players     []Player
	Plays       []Play
	WeeklyStats []WeeklyStat
}

type roster struct {
	qb  Player
	rbs []Player
	wrs []Player
}

type Generator struct {
	rnd *rand.Rand
	cfg Config
}

func NewGenerator(cfg Config) *Generator {
	return &Generator{rnd: rand.New(rand.NewSource(cfg.Seed)), cfg: cfg}
}

// Generate builds the whole dataset. The same config and seed always
// produce the same rows.
func (g *Generator) Generate() Dataset {
	teams := teamCodes[:g.cfg.Teams]
	rosters := make(map[string]roster, len(teams))
	var out Dataset
	for _, team := range teams {
		r := roster{qb: g.newPlayer(len(out.Players), team, "QB")}
		out.Players = append(out.Players, r.qb)
		for i := 0; i < 2; i++ {
			p := g.newPlayer(len(out.Players), team, "RB")
			r.rbs = append(r.rbs, p)
			out.Players = append(out.Players, p)
		}
		for i := 0; i < 3; i++ {
			p := g.newPlayer(len(out.Players), team, "WR")
			r.wrs = append(r.wrs, p)
			out.Players = append(out.Players, p)
		}
		rosters[team] = r
	}

	for s := 0; s < g.cfg.Seasons; s++ {
		season := int64(g.cfg.FirstSeason + s)
		for week := int64(1); week <= int64(g.cfg.Weeks); week++ {
			for _, pair := range pairings(teams, int(week)) {
				gameID := fmt.Sprintf("%d_%02d_%s_%s", season, week, pair[0], pair[1])
				out.Plays = append(out.Plays, g.game(gameID, season, week, pair, rosters)...)
			}
		}
	}
	out.WeeklyStats = aggregate(out.Players, out.Plays)
	return out
}

func (g *Generator) newPlayer(index int, team, position string) Player {
	first := firstNames[g.rnd.Intn(len(firstNames))]
	last := lastNames[g.rnd.Intn(len(lastNames))]
	return Player{
		GSISID:    fmt.Sprintf("00-%07d", index+1),
		Name:      first + " " + last,
		ShortName: first[:1] + "." + last,
		Position:  position,
		Team:      team,
	}
}

// pairings rotates teams round-robin so every week has a different schedule.
func pairings(teams []string, week int) [][2]string {
	n := len(teams)
	order := make([]string, n)
	order[0] = teams[0]
	for i := 1; i < n; i++ {
		order[i] = teams[1+(i-1+week)%(n-1)]
	}
	out := make([][2]string, 0, n/2)
	for i := 0; i < n/2; i++ {
		out = append(out, [2]string{order[i], order[n-1-i]})
	}
	return out
}

func (g *Generator) game(gameID string, season, week int64, pair [2]string, rosters map[string]roster) []Play {
	plays := make([]Play, 0, g.cfg.PlaysPerGame)
	down, togo := int64(1), int64(10)
	offense := 0
	for i := 0; i < g.cfg.PlaysPerGame; i++ {
		posteam, defteam := pair[offense], pair[1-offense]
		play := Play{
			PlayID:     int64(i + 1),
			GameID:     gameID,
			Season:     season,
			Week:       week,
			SeasonType: "REG",
			PosTeam:    posteam,
			DefTeam:    defteam,
			Down:       down,
			YdsToGo:    togo,
		}
		g.fillPlay(&play, rosters[posteam])
		plays = append(plays, play)

		switch {
		case play.Touchdown == 1 || play.Interception == 1 || down == 4:
			offense = 1 - offense
			down, togo = 1, 10
		case play.YardsGained >= togo:
			down, togo = 1, 10
		default:
			down++
			togo -= play.YardsGained
			if togo < 1 {
				togo = 1
			}
		}
	}
	return plays
}

func (g *Generator) fillPlay(play *Play, r roster) {
	if g.rnd.Intn(100) < 58 {
		qb := r.qb
		play.PlayType = "pass"
		play.PasserPlayerID, play.PasserPlayerName = qb.GSISID, qb.ShortName
		switch roll := g.rnd.Intn(100); {
		case roll < 6:
			play.Sack = 1
			play.YardsGained = -int64(g.rnd.Intn(9) + 1)
			play.Desc = fmt.Sprintf("%s sacked for %d yards", qb.ShortName, -play.YardsGained)
		case roll < 9:
			play.Interception = 1
			play.IncompletePass = 1
			play.Desc = fmt.Sprintf("%s pass INTERCEPTED", qb.ShortName)
		case roll < 72:
			wr := r.wrs[g.rnd.Intn(len(r.wrs))]
			play.ReceiverPlayerID, play.ReceiverPlayerName = wr.GSISID, wr.ShortName
			play.CompletePass = 1
			play.YardsGained = int64(g.rnd.ExpFloat64()*9) + 1
			play.PassingYards, play.ReceivingYards = play.YardsGained, play.YardsGained
			play.Touchdown = g.score(play.YardsGained)
			play.Desc = fmt.Sprintf("%s pass complete to %s for %d yards", qb.ShortName, wr.ShortName, play.YardsGained)
		default:
			wr := r.wrs[g.rnd.Intn(len(r.wrs))]
			play.ReceiverPlayerID, play.ReceiverPlayerName = wr.GSISID, wr.ShortName
			play.IncompletePass = 1
			play.Desc = fmt.Sprintf("%s pass incomplete intended for %s", qb.ShortName, wr.ShortName)
		}
	} else {
		rb := r.rbs[0]
		if g.rnd.Intn(100) < 35 {
			rb = r.rbs[1]
		}
		play.PlayType = "run"
		play.RusherPlayerID, play.RusherPlayerName = rb.GSISID, rb.ShortName
		play.YardsGained = int64(math.Round(g.rnd.NormFloat64()*4 + 4))
		play.RushingYards = play.YardsGained
		play.Touchdown = g.score(play.YardsGained)
		play.Desc = fmt.Sprintf("%s run for %d yards", rb.ShortName, play.YardsGained)
	}
	play.EPA = math.Round((float64(play.YardsGained)/10-0.1+float64(play.Touchdown)*2.5-float64(play.Interception)*3)*1000) / 1000
}

func (g *Generator) score(yards int64) int64 {
	if yards >= 40 || g.rnd.Intn(100) < 3 {
		return 1
	}
	return 0
}

func aggregate(players []Player, plays []Play) []WeeklyStat {
	byID := make(map[string]Player, len(players))
	for _, p := range players {
		byID[p.GSISID] = p
	}
	type key struct {
		id           string
		season, week int64
	}
	stats := map[key]*WeeklyStat{}
	get := func(id string, play Play) *WeeklyStat {
		k := key{id, play.Season, play.Week}
		if s, ok := stats[k]; ok {
			return s
		}
		p := byID[id]
		s := &WeeklyStat{
			PlayerID: id, PlayerName: p.ShortName, Position: p.Position, RecentTeam: p.Team,
			Season: play.Season, Week: play.Week, SeasonType: play.SeasonType,
		}
		stats[k] = s
		return s
	}

	for _, play := range plays {
		if play.PasserPlayerID != "" {
			s := get(play.PasserPlayerID, play)
			if play.Sack == 1 {
				s.Sacks++
			} else {
				s.Attempts++
				s.Completions += play.CompletePass
				s.PassingYards += play.PassingYards
				s.PassingTDs += play.Touchdown
				s.Interceptions += play.Interception
			}
		}
		if play.ReceiverPlayerID != "" {
			s := get(play.ReceiverPlayerID, play)
			s.Targets++
			s.Receptions += play.CompletePass
			s.ReceivingYards += play.ReceivingYards
			s.ReceivingTDs += play.Touchdown
		}
		if play.RusherPlayerID != "" {
			s := get(play.RusherPlayerID, play)
			s.Carries++
			s.RushingYards += play.RushingYards
			s.RushingTDs += play.Touchdown
		}
	}

	out := make([]WeeklyStat, 0, len(stats))
	for _, s := range stats {
		s.FantasyPointsPPR = math.Round((float64(s.PassingYards)*0.04+float64(s.PassingTDs)*4-float64(s.Interceptions)*2+
			float64(s.RushingYards+s.ReceivingYards)*0.1+float64(s.RushingTDs+s.ReceivingTDs)*6+float64(s.Receptions))*100) / 100
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Season != out[j].Season {
			return out[i].Season < out[j].Season
		}
		if out[i].Week != out[j].Week {
			return out[i].Week < out[j].Week
		}
		return out[i].PlayerID < out[j].PlayerID
	})
	return out
}
