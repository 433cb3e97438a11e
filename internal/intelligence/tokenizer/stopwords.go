package tokenizer

import "strings"

const frenchStopwords = `
a à afin ai aie aient aies ait alors as au aucun aussi autre aux avait avant
avec avez avions avoir avons ayant c' ça car ce ceci cela celle celles celui
ces cet cette ceux chaque chez comme comment d' dans de des donc dont du elle
elles en encore entre es est et était étaient étais était été être eu eux
fait il ils j' je jusqu' l' la le les leur leurs lui m' ma mais me même mes moi
mon n' ne ni nos notre nous on ont ou où par pas peu peut plus pour pourquoi
qu' quand que quel quelle quelles quels qui s' sa sans se ses si son sont sous
sur t' ta te tes toi ton tous tout toute toutes très tu un une vos votre vous y
`

const englishStopwords = `
a about above after again against all am an and any are as at be because been
before being below between both but by can could did do does doing down during
each few for from further had has have having he her here hers herself him
himself his how i if in into is it its itself just me more most my myself no
nor not of off on once only or other our ours ourselves out over own same she
should so some such than that the their theirs them themselves then there these
they this those through to too under until up very was we were what when where
which while who whom why will with would you your yours yourself yourselves
`

func stopwordsFor(language string) map[string]struct{} {
	var list string
	switch language {
	case "french":
		list = frenchStopwords
	case "english":
		list = englishStopwords
	}
	set := make(map[string]struct{})
	for _, w := range strings.Fields(list) {
		set[w] = struct{}{}
	}
	return set
}
