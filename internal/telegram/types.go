package telegram

import "fmt"

// Command представляет команду бота
type Command string

const (
	CmdStart     Command = "start"
	CmdHelp      Command = "help"
	CmdStop      Command = "stop"
	CmdProfile   Command = "profile"
	CmdPromo     Command = "promo"
	CmdSubscribe Command = "subscribe"

	CmdBroadcast       Command = "broadcast"
	CmdAdBroadcast     Command = "adbroadcast"
	CmdJobs            Command = "jobs"
	CmdCancelBroadcast Command = "cancel_broadcast"
	CmdAddPromo        Command = "addpromo"
	CmdDelPromo        Command = "delpromo"
	CmdDelPromos       Command = "delpromos"
	CmdPromos          Command = "promos"
	CmdAddTariff       Command = "addtariff"
	CmdDelTariff       Command = "deltariff"
	CmdTariffs         Command = "tariffs"
	CmdDelUser         Command = "deluser"
	CmdStats           Command = "stats"
)

func (c Command) String() string {
	return string(c)
}

func (c Command) IsValid() bool {
	switch c {
	case CmdStart, CmdHelp, CmdStop, CmdProfile, CmdPromo, CmdSubscribe:
		return true
	}
	return c.IsAdminOnly()
}

func (c Command) IsAdminOnly() bool {
	switch c {
	case CmdBroadcast, CmdAdBroadcast, CmdJobs, CmdCancelBroadcast,
		CmdAddPromo, CmdDelPromo, CmdDelPromos, CmdPromos,
		CmdAddTariff, CmdDelTariff, CmdTariffs, CmdDelUser, CmdStats:
		return true
	}
	return false
}

// CallbackPrefix представляет префиксы callback данных
type CallbackPrefix string

const (
	CallbackBuyTariff CallbackPrefix = "buy_tariff_"
)

func (c CallbackPrefix) String() string {
	return string(c)
}

func (c CallbackPrefix) WithID(id interface{}) string {
	return string(c) + fmt.Sprintf("%v", id)
}
