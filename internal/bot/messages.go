package bot

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// DefaultQuery is the engagement search used by the scheduled sweep.
const DefaultQuery = `wifDOG OR solwifDOG OR memecoin OR crypto OR kukur OR tihar OR "dog festival" OR nepal`

const (
	communityURL = "https://x.com/i/communities/1968070058237890732"
	featuredURL  = "https://x.com/AadityaDhu71908/status/1968073148789821487"
)

// Messages is the fixed text catalogue. MarketUpdate is a text/template over marketData.
type Messages struct {
	MarketUpdate     string
	Reply            string
	Promotions       []string
	SpecificTarget   string
	SpecificReplies  []string
	SpecificFallback string
	TestPost         string
}

func DefaultMessages() Messages {
	return Messages{
		MarketUpdate: "Trending memecoin: {{.Asset}} at ${{.Price}} USD. #memecoin #crypto",
		Reply:        "Fascinating cultural insight! Dogs hold a special place in many cultures. 🐕 #KukurTihar #CulturalHeritage",
		Promotions: []string{
			"🚀 $wifDOG is taking over! Join the heavenly revolution in crypto! 🌟 " + communityURL + " #wifDOG #memecoin #crypto #Solana",
			"🐕 Divine $wifDOG community growing fast! Don't miss this celestial opportunity! ⭐ " + communityURL + " #wifDOG #altcoins #trading",
			"🌙 $wifDOG: Where dogs meet divinity in the crypto space! Join now! 🐕‍🦺 " + communityURL + " #wifDOG #DeFi #NFT",
			"🔥 $wifDOG trending! Heavenly gains await in this dog-themed revolution! 🌟 " + communityURL + " #wifDOG #crypto #blockchain",
			"✨ Discover $wifDOG - the ultimate crypto companion for your portfolio! 🐕 " + communityURL + " #wifDOG #investing #memecoins",
		},
		SpecificTarget: "1968073148789821487",
		SpecificReplies: []string{
			"🚀 This $wifDOG breakdown is pure gold! Essential reading for crypto enthusiasts! 📈 " + featuredURL + " #wifDOG #crypto #memecoin #Solana #trading",
			"🔥 Mind-blowing $wifDOG analysis! This post explains everything you need to know! 🌟 " + featuredURL + " #wifDOG #blockchain #DeFi #NFT #investing",
			"💎 $wifDOG community favorite! This thread is a game-changer for the space! 🐕 " + featuredURL + " #wifDOG #altcoins #cryptocurrency #memecoins",
			"⚡ Revolutionary $wifDOG insights! Don't sleep on this comprehensive breakdown! 🌙 " + featuredURL + " #wifDOG #cryptoanalysis #trading #blockchain",
			"🌟 $wifDOG phenomenon explained! This post captures the essence perfectly! ✨ " + featuredURL + " #wifDOG #memecoin #Solana #cryptocommunity",
		},
		SpecificFallback: "🔥 Must-read $wifDOG analysis! Complete breakdown here: " + featuredURL + " #wifDOG #crypto #memecoin #Solana",
		TestPost:         "🐕 $wifDOG Community Bot is now active! Join the heavenly revolution! 🌟 #wifDOG #memecoin",
	}
}

// withDefaults fills empty entries from DefaultMessages.
func (m Messages) withDefaults() Messages {
	def := DefaultMessages()
	if strings.TrimSpace(m.MarketUpdate) == "" {
		m.MarketUpdate = def.MarketUpdate
	}
	if strings.TrimSpace(m.Reply) == "" {
		m.Reply = def.Reply
	}
	if len(m.Promotions) == 0 {
		m.Promotions = def.Promotions
	}
	if strings.TrimSpace(m.SpecificTarget) == "" {
		m.SpecificTarget = def.SpecificTarget
	}
	if len(m.SpecificReplies) == 0 {
		m.SpecificReplies = def.SpecificReplies
	}
	if strings.TrimSpace(m.SpecificFallback) == "" {
		m.SpecificFallback = def.SpecificFallback
	}
	if strings.TrimSpace(m.TestPost) == "" {
		m.TestPost = def.TestPost
	}
	return m
}

type marketData struct {
	Asset   string // capitalized asset id
	AssetID string
	Price   string
}

func parseMarketTemplate(src string) (*template.Template, error) {
	t, err := template.New("market_update").Option("missingkey=error").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("bot: market_update template: %w", err)
	}
	return t, nil
}

func renderMarket(t *template.Template, assetID string, price decimal.Decimal) (string, error) {
	var b bytes.Buffer
	if err := t.Execute(&b, marketData{Asset: capitalize(assetID), AssetID: assetID, Price: price.String()}); err != nil {
		return "", fmt.Errorf("bot: render market_update: %w", err)
	}
	return b.String(), nil
}

// capitalize upper-cases the first rune and lower-cases the rest ("dogwifhat" -> "Dogwifhat").
func capitalize(s string) string {
	r, n := utf8.DecodeRuneInString(s)
	if n == 0 {
		return s
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(s[n:])
}
