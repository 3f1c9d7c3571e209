// Package protocol implements the line-oriented CMD wire protocol spoken by
// the DAS terminal: command formatting, line classification, and positional
// field parsing.
//
// Lines are ASCII, terminated by CRLF on the wire (bare LF is accepted).
// Control events are prefixed "%", data events "$"; everything else is a
// plain reply to the most recent plain-text command or an ERROR/WARNING/INFO
// notice.
package protocol

// Wire commands.
const (
	CmdLogin           = "LOGIN"
	CmdLogout          = "LOGOUT"
	CmdQuit            = "QUIT"
	CmdEcho            = "ECHO"
	CmdCheckConnection = "CHECKCONNECTION"
	CmdClient          = "CLIENT"

	CmdNewOrder    = "NEWORDER"
	CmdCancelOrder = "CANCEL"
	CmdCancelAll   = "CANCELALL"
	CmdReplace     = "REPLACE"

	CmdPosRefresh   = "POSREFRESH"
	CmdGetBP        = "GET BP"
	CmdGetShortInfo = "GET SHORTINFO"
	CmdRouteStatus  = "GET RouteStatus"

	CmdSubscribe   = "SB"
	CmdUnsubscribe = "UNSB"
	CmdGetQuote    = "GETQUOTE"
	CmdGetChart    = "GETCHART"

	CmdLocateNew     = "SLNEWORDER"
	CmdLocateInquire = "SLPRICEINQUIRE"
	CmdLocateCancel  = "SLCANCELORDER"
	CmdLocateAccept  = "SLOFFEROPERATION"
	CmdLocateAvail   = "SLAvailQuery"
	CmdGetLocateInfo = "GETLOCATEINFO"
)

// Reply prefixes.
const (
	PrefixOrder       = "%ORDER"
	PrefixOrderAction = "%OrderAct"
	PrefixPosition    = "%POS"
	PrefixBuyingPower = "%BP"
	PrefixShortInfo   = "%SHORTINFO"
	PrefixLocateInfo  = "%LOCATEINFO"
	PrefixLocateRet   = "%SLRET"
	PrefixLocateOrder = "%SLOrder"
	PrefixWatchOrder  = "%IORDER"
	PrefixWatchPos    = "%IPOS"
	PrefixWatchTrade  = "%ITRADE"

	PrefixQuote       = "$Quote"
	PrefixDepth       = "$Lv2"
	PrefixTimeSales   = "$T&S"
	PrefixChart       = "$Chart"
	PrefixBar         = "$Bar"
	PrefixLimitDownUp = "$LDLU"
	PrefixLocateAvail = "$SLAvailQueryRet"
	PrefixRouteStatus = "$RouteStatus"

	PrefixError   = "ERROR"
	PrefixWarning = "WARNING"
	PrefixInfo    = "INFO"
)

// LineTerminator is appended to every outbound command.
const LineTerminator = "\r\n"

// LoginSuccess is the reply text the terminal sends on a successful login.
const LoginSuccess = "LOGIN SUCCESSED"
