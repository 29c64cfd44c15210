package conversation

const (
	msgWelcome = "👋 Welcome!\n\nUse /gensession to generate your Telegram session file.\n\n" +
		"⚠️ Only use this for accounts you own."
	msgAskPhone       = "📱 Send your phone number in international format (e.g. +919876543210)."
	msgInvalidPhone   = "⚠️ Invalid phone. Send again starting with +countrycode."
	msgPhoneBusy      = "⏳ Another login for this number is in progress. Try again later or send a different number."
	msgSendingCode    = "🔄 Sending login code to Telegram..."
	msgCodeSent       = "✉️ Code sent! Please enter the code you received."
	msgPhoneRejected  = "❌ Invalid phone number. Try again with /gensession."
	msgFloodWait      = "⏳ Telegram asks to wait %s before another code can be sent. Try /gensession later."
	msgSendCodeFailed = "❌ Error sending code. Try again later."

	msgSignedIn       = "✅ Signed in successfully! Preparing session file..."
	msgNeedPassword   = "🔒 This account has 2FA enabled. Please send your password now."
	msgInvalidCode    = "❌ Invalid code. Start again with /gensession."
	msgExpiredCode    = "❌ Code expired. Use /gensession to retry."
	msgSignInFailed   = "❌ Unexpected error during sign-in."
	msgPasswordOK     = "✅ 2FA accepted! Preparing session file..."
	msgWrongPassword  = "❌ Password incorrect. Try again or /cancel."
	msgPasswordFailed = "❌ Error with 2FA sign-in. Start again with /gensession."

	msgCancelled     = "❎ Cancelled."
	msgAlreadyActive = "⏳ A session generation is already in progress. Answer the last prompt or send /cancel to start over."
	msgInProgress    = "ℹ️ A login is in progress. Answer the last prompt or send /cancel."
	msgExpired       = "⚠️ Session expired or internal error. Start again with /gensession."
	msgTimedOut      = "⌛ No reply for too long, the login was cancelled. Start again with /gensession."
	msgShuttingDown  = "⚠️ The bot is restarting and the login was cancelled. Start again with /gensession."

	msgCaption       = "Here is your session file."
	msgNotFound      = "❌ Session file not found."
	msgDeliverFailed = "❌ Signed in, but the session file could not be sent. " +
		"The login may still be active on your account; check your active sessions or try /gensession again."
)
